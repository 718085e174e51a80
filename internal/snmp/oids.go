package snmp

// SNMPv2-MIB system group.
const (
	OIDSysUpTime = "1.3.6.1.2.1.1.3.0"
)

// HOST-RESOURCES-MIB processor and storage tables.
const (
	OIDProcessorLoad = "1.3.6.1.2.1.25.3.3.1.2"

	OIDStorageTable = "1.3.6.1.2.1.25.2.3.1"
	OIDStorageType  = "1.3.6.1.2.1.25.2.3.1.2"
	OIDStorageSize  = "1.3.6.1.2.1.25.2.3.1.5"
	OIDStorageUsed  = "1.3.6.1.2.1.25.2.3.1.6"

	// OIDStorageRAM is the hrStorageType value of main memory.
	OIDStorageRAM = "1.3.6.1.2.1.25.2.1.2"
)
