package config

type TextractConfig struct {
	Region        string  `yaml:"region"`
	Endpoint      string  `yaml:"endpoint"`
	AccessKey     string  `yaml:"access_key"`
	SecretKey     string  `yaml:"secret_key"`
	MinConfidence float64 `yaml:"min_confidence"`
}

func (c *TextractConfig) applyEnv() {
	envString("AWS_REGION", &c.Region)
	envString("TEXTRACT_ENDPOINT", &c.Endpoint)
	envString("AWS_ACCESS_KEY", &c.AccessKey)
	envString("AWS_SECRET_KEY", &c.SecretKey)
	envFloat("TEXTRACT_MIN_CONFIDENCE", &c.MinConfidence)
}

// GetTextractConfig returns the Textract section of the application config.
func GetTextractConfig() *TextractConfig {
	return &Get().OCR.Textract
}
