package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

const cfgPico = `{
  "indication": {
    "enabled": true,
    "strip_length": 2400,
    "brightness": 20,
    "mode": 1,
    "order_led_cap": 1,
    "allow_overwrite": false,
    "locate_timeout_ms": 10000,
    "colors": {"green": 65280, "yellow": 16766720, "red": 13434880, "blue": 2186201}
  },
  "mqtt": {
    "broker": "192.168.1.10:1883",
    "client_id": "picklight-pico",
    "sub_topic": "Debug/IoTerminal_S3/ssais_s2c/ymslx/",
    "pub_topic": "Debug/IoTerminal_S3/ssais_c2s/ymslx/"
  },
  "console": {
    "transport": {"type": "uart", "uart": {"baud": 115200, "rx_pin": 1, "tx_pin": 0}}
  },
  "alarm": {
    "pins": [10, 11, 12, 13]
  },
  "heartbeat": {
    "interval": 2
  }
}`

const cfgHost = `{
  "indication": {
    "enabled": true,
    "strip_length": 240,
    "brightness": 20,
    "mode": 1,
    "order_led_cap": 1,
    "locate_timeout_ms": 10000,
    "boxes": {"A-01": [1, 30], "A-02": [31, 60], "A-03": [61, 90], "A-04": [91, 120]}
  },
  "mqtt": {
    "broker": "127.0.0.1:1883",
    "client_id": "picklight-host",
    "sub_topic": "Debug/IoTerminal_S3/ssais_s2c/ymslx/",
    "pub_topic": "Debug/IoTerminal_S3/ssais_c2s/ymslx/"
  },
  "console": {
    "transport": {"type": "stdio"}
  },
  "alarm": {
    "pins": [0, 1, 2, 3]
  },
  "heartbeat": {
    "interval": 10
  }
}`

var embeddedConfigs = map[string][]byte{
	"pico": []byte(cfgPico),
	"host": []byte(cfgHost),
}
