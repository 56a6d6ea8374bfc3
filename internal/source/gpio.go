package source

// GPIO presence line defaults.
const (
	DefaultGPIOChip = "gpiochip0"
	DefaultGPIOLine = 17
)

// presenceReading maps a presence line to a people count.
func presenceReading(active bool) string {
	if active {
		return "1"
	}
	return "0"
}
