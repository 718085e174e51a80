package inventory

// DeviceConfig seeds one device row at startup. Devices are otherwise
// managed outside nasguard.
type DeviceConfig struct {
	ID            string `mapstructure:"id"`
	Name          string `mapstructure:"name"`
	Address       string `mapstructure:"address"`
	Port          int    `mapstructure:"port"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	SNMPCommunity string `mapstructure:"snmp_community"`
	Enabled       *bool  `mapstructure:"enabled"`
}

type InventoryConfig struct {
	Devices []DeviceConfig `mapstructure:"devices"`
}

func DefaultConfig() InventoryConfig {
	return InventoryConfig{}
}
