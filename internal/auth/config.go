package auth

// Config хранит единственный общий пароль сервиса. Пустой пароль отключает проверку.
type Config struct {
	Password string `mapstructure:"PASSWORD"`
}

func (c *Config) Enabled() bool {
	return c.Password != ""
}
