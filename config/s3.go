package config

type S3Config struct {
	BucketName string `yaml:"bucket_name"`
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
}

func (c *S3Config) applyEnv() {
	envString("AWS_S3_BUCKET_NAME", &c.BucketName)
	envString("AWS_REGION", &c.Region)
	envString("AWS_ENDPOINT", &c.Endpoint)
	envString("AWS_ACCESS_KEY", &c.AccessKey)
	envString("AWS_SECRET_KEY", &c.SecretKey)
}

// GetS3Config returns the S3 section of the application config.
func GetS3Config() *S3Config {
	return &Get().Storage.S3
}
