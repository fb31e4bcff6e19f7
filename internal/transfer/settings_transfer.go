package transfer

type SettingsUpdate struct {
	Timezone            string `json:"timezone"`
	DefaultFirstComment string `json:"default_first_comment"`
}
