package entity

type Company struct {
	Name      string `mapstructure:"name" json:"name" validate:"required"`
	StatusURL string `mapstructure:"status_url" json:"status_url" validate:"required,url"`
}
