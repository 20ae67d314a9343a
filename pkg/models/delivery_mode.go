package models

// DeliveryMode is the canonical channel-selection enumeration. Earlier
// data shapes used several overlapping vocabularies (`ftp_only`,
// `email_and_ftp`); those parse as deprecated aliases and are never
// written back.
type DeliveryMode string

const (
	DeliveryModeNone  DeliveryMode = "none"
	DeliveryModeEmail DeliveryMode = "email"
	DeliveryModeFTP   DeliveryMode = "ftp"
	DeliveryModeBoth  DeliveryMode = "both"
)

// ParseDeliveryMode maps a stored delivery-mode string, including
// deprecated aliases, onto the canonical enumeration. Unknown or empty
// values parse as "none".
func ParseDeliveryMode(raw string) DeliveryMode {
	switch raw {
	case "email":
		return DeliveryModeEmail
	case "ftp", "ftp_only":
		return DeliveryModeFTP
	case "both", "email_and_ftp":
		return DeliveryModeBoth
	default:
		return DeliveryModeNone
	}
}

// SendsEmail reports whether the email channel is enabled.
func (m DeliveryMode) SendsEmail() bool {
	return m == DeliveryModeEmail || m == DeliveryModeBoth
}

// SendsFTP reports whether the remote-transfer channel is enabled.
func (m DeliveryMode) SendsFTP() bool {
	return m == DeliveryModeFTP || m == DeliveryModeBoth
}
