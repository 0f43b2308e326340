package email

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Account setting keys for IMAP mailboxes.
const (
	SettingHost         = "imap_host"
	SettingPort         = "imap_port"
	SettingTLS          = "imap_tls"
	SettingMailbox      = "imap_mailbox"
	SettingLookbackDays = "imap_lookback_days"
)

// Settings holds the connection settings of an IMAP account.
type Settings struct {
	Host         string
	Port         string
	TLS          bool
	Mailbox      string
	LookbackDays int
}

// Addr returns host:port.
func (s Settings) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// ParseSettings reads IMAP settings from an account's settings map,
// defaulting to implicit TLS on port 993 and the INBOX mailbox.
func ParseSettings(m map[string]string) (Settings, error) {
	s := Settings{
		Host:    strings.TrimSpace(m[SettingHost]),
		Port:    strings.TrimSpace(m[SettingPort]),
		TLS:     true,
		Mailbox: strings.TrimSpace(m[SettingMailbox]),
	}
	if s.Host == "" {
		return Settings{}, fmt.Errorf("missing %s setting", SettingHost)
	}
	if s.Port == "" {
		s.Port = "993"
	}
	if s.Mailbox == "" {
		s.Mailbox = "INBOX"
	}

	if v := strings.TrimSpace(m[SettingTLS]); v != "" {
		tls, err := strconv.ParseBool(v)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid %s setting %q: %w", SettingTLS, v, err)
		}
		s.TLS = tls
	}

	if v := strings.TrimSpace(m[SettingLookbackDays]); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			return Settings{}, fmt.Errorf("invalid %s setting %q", SettingLookbackDays, v)
		}
		s.LookbackDays = days
	}

	return s, nil
}
