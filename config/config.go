package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Google    GoogleConfig    `yaml:"google"`
	Tasks     TasksConfig     `yaml:"tasks"`
	Slack     SlackConfig     `yaml:"slack"`
	Article   ArticleConfig   `yaml:"article"`
}

type ServerConfig struct {
	Port      string `yaml:"port"`
	Mode      string `yaml:"mode"` // debug, release
	PublicURL string `yaml:"public_url"`
}

type OpenAIConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	TextModel  string `yaml:"text_model"`
	AuditModel string `yaml:"audit_model"`
	MatchModel string `yaml:"match_model"`
	ImageModel string `yaml:"image_model"`
}

type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

type GoogleConfig struct {
	// Credentials is inline service-account JSON or a path to it.
	Credentials    string `yaml:"credentials"`
	ParentFolderID string `yaml:"parent_folder_id"`
	ImageFolderID  string `yaml:"image_folder_id"`
	UploadFolderID string `yaml:"upload_folder_id"`
}

type TasksConfig struct {
	Project  string `yaml:"project"`
	Location string `yaml:"location"`
	Queue    string `yaml:"queue"`
}

type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type ArticleConfig struct {
	// Provider selects the text backend: openai or claude.
	Provider      string `yaml:"provider"`
	MaxWorkers    int    `yaml:"max_workers"`
	KeywordColumn string `yaml:"keyword_column"` // master sheet keyword column
	URLColumn     string `yaml:"url_column"`     // master sheet article URL column
}

var (
	cfg  *Config
	once sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		cfg = loadConfig()
	})
	return cfg
}

func loadConfig() *Config {
	config := &Config{
		Server: ServerConfig{
			Port: "8080",
			Mode: "debug",
		},
		OpenAI: OpenAIConfig{
			BaseURL:    "https://api.openai.com/v1",
			TextModel:  "gpt-4o",
			AuditModel: "gpt-4o",
			MatchModel: "gpt-4o-mini",
			ImageModel: "dall-e-3",
		},
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 8192,
		},
		Article: ArticleConfig{
			Provider:      "openai",
			MaxWorkers:    2,
			KeywordColumn: "G",
			URLColumn:     "N",
		},
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err == nil {
		yaml.Unmarshal(data, config)
	}

	// environment variables override the config file
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.OpenAI.BaseURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL_NAME"); model != "" {
		config.OpenAI.TextModel = model
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Anthropic.APIKey = apiKey
	}
	if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"); creds != "" {
		config.Google.Credentials = creds
	} else if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); creds != "" {
		config.Google.Credentials = creds
	}
	if folder := os.Getenv("DRIVE_PARENT_FOLDER_ID"); folder != "" {
		config.Google.ParentFolderID = folder
	}
	if folder := os.Getenv("IMAGE_FOLDER_ID"); folder != "" {
		config.Google.ImageFolderID = folder
	}
	if folder := os.Getenv("UPLOAD_FOLDER_ID"); folder != "" {
		config.Google.UploadFolderID = folder
	}
	if project := os.Getenv("CLOUD_TASKS_PROJECT"); project != "" {
		config.Tasks.Project = project
	}
	if location := os.Getenv("CLOUD_TASKS_LOCATION"); location != "" {
		config.Tasks.Location = location
	}
	if queue := os.Getenv("CLOUD_TASKS_QUEUE"); queue != "" {
		config.Tasks.Queue = queue
	}
	if url := os.Getenv("PUBLIC_SERVICE_URL"); url != "" {
		config.Server.PublicURL = url
	}
	if webhook := os.Getenv("SLACK_WEBHOOK_URL"); webhook != "" {
		config.Slack.WebhookURL = webhook
	}
	if provider := os.Getenv("TEXT_PROVIDER"); provider != "" {
		config.Article.Provider = provider
	}

	return config
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func UpdateConfig(newCfg *Config) {
	cfg = newCfg
}
