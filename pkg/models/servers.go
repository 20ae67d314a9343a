package models

import "time"

// FTPServer is a remote-transfer target configuration. Storage backends
// are built from an explicit copy of this struct per call; there is no
// shared connection registry.
type FTPServer struct {
	ID          string     `json:"id" validate:"required"`
	Name        string     `json:"name" validate:"required"`
	Host        string     `json:"host" validate:"required"`
	Port        int        `json:"port"`
	Username    string     `json:"username"`
	Password    string     `json:"password"`
	RootPath    string     `json:"root_path,omitempty"`
	PassiveMode bool       `json:"passive_mode"`
	Status      string     `json:"status,omitempty"`
	LastCheckAt *time.Time `json:"last_check_at,omitempty"`
}

// Addr returns host:port with the FTP default applied.
func (s *FTPServer) Addr() string {
	port := s.Port
	if port == 0 {
		port = 21
	}

	return s.Host + ":" + itoa(port)
}

// EmailServer is an SMTP transport configuration.
type EmailServer struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Host        string `json:"host" validate:"required"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Encryption  string `json:"encryption,omitempty"`
	FromAddress string `json:"from_address" validate:"required,email"`
	FromName    string `json:"from_name,omitempty"`
}

// EmailTemplate is a placeholder-substitution email body. RequireOTP
// marks templates whose deliveries must be gated by a one-time code.
type EmailTemplate struct {
	ID         string `json:"id" validate:"required"`
	Name       string `json:"name"`
	Subject    string `json:"subject" validate:"required"`
	BodyHTML   string `json:"body_html" validate:"required"`
	BodyText   string `json:"body_text,omitempty"`
	RequireOTP bool   `json:"require_otp"`
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	var buf [8]byte

	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}

	return string(buf[i:])
}
