package models

// Setting 运营可调参数（键值对存储）
type Setting struct {
	Key       string `gorm:"primarykey;type:varchar(64)" json:"key"` // 配置键
	ValueJSON JSON   `gorm:"type:json" json:"value"`                 // 配置值
}

// TableName 指定表名
func (Setting) TableName() string {
	return "settings"
}
