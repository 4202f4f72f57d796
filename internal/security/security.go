// Package security provides the credential-resolution, config-sanity, and
// CEF field-escaping helpers used at startup and in the alert dispatch path.
package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// SecretManager resolves configuration values that may be indirected
// through the environment or a file instead of stored in plaintext TOML.
type SecretManager struct{}

// NewSecretManager creates a new secret manager.
func NewSecretManager() *SecretManager {
	return &SecretManager{}
}

// GetSecret resolves key. Supported forms: "env:VAR_NAME", "file:/path", or
// plain text (returned as-is, for local/dev configs).
func (sm *SecretManager) GetSecret(key string) (string, error) {
	if strings.HasPrefix(key, "env:") {
		envVar := strings.TrimPrefix(key, "env:")
		value := os.Getenv(envVar)
		if value == "" {
			return "", fmt.Errorf("environment variable %s not found", envVar)
		}
		return value, nil
	}

	if strings.HasPrefix(key, "file:") {
		filePath := strings.TrimPrefix(key, "file:")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("read secret from file %s: %w", filePath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	return key, nil
}

// Validator provides input validation for config fields that come from an
// operator-edited TOML file.
type Validator struct{}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

var ipv4Pattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)

// ValidateIP reports whether ip is a well-formed IPv4 dotted-quad address.
func (v *Validator) ValidateIP(ip string) bool {
	if !ipv4Pattern.MatchString(ip) {
		return false
	}
	for _, part := range strings.Split(ip, ".") {
		octet, err := strconv.Atoi(part)
		if err != nil || octet < 0 || octet > 255 {
			return false
		}
	}
	return true
}

// ValidateHostPort reports whether hostPort is of the form host:port with a
// port in 1-65535. Used to sanity-check the combined SIEM address and port
// before the daemon ever tries to dial it.
func (v *Validator) ValidateHostPort(hostPort string) bool {
	parts := strings.Split(hostPort, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	return port > 0 && port <= 65535
}

// SanitizeInput strips null bytes and surrounding whitespace from operator
// input (string config values).
func (v *Validator) SanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}

// SecurityAuditor redacts sensitive configuration values before they are
// logged at startup.
type SecurityAuditor struct {
	sensitiveFields []string
}

// NewSecurityAuditor creates a new security auditor.
func NewSecurityAuditor() *SecurityAuditor {
	return &SecurityAuditor{
		sensitiveFields: []string{
			"password",
			"passwd",
			"secret",
			"token",
			"api_key",
			"apikey",
			"access_key",
			"private_key",
			"credential",
			"auth",
			"authorization",
		},
	}
}

// ContainsSensitiveData reports whether fieldName looks like it names
// sensitive data (password, token, key, ...).
func (sa *SecurityAuditor) ContainsSensitiveData(fieldName string) bool {
	lowerField := strings.ToLower(fieldName)
	for _, sensitive := range sa.sensitiveFields {
		if strings.Contains(lowerField, sensitive) {
			return true
		}
	}
	return false
}

// RedactSensitiveFields returns a copy of fields with sensitive values
// replaced, suitable for logging a loaded configuration at startup without
// leaking the SMTP password.
func (sa *SecurityAuditor) RedactSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	redacted := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if sa.ContainsSensitiveData(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

// cefEscapeReplacer applies the CEF extension-value escape rules in the
// required order: backslash first, so later substitutions never
// double-escape their own output, then pipe, then the literal two-character
// sequences for newline and carriage return.
var cefEscapeReplacer = strings.NewReplacer(
	`\`, `\\`,
	`|`, `\|`,
	"\n", `\n`,
	"\r", `\r`,
)

// SanitizeCEFField escapes a string for safe inclusion as a CEF header or
// extension value, preventing a crafted source IP, service name, or log
// line from injecting extra CEF fields or corrupting the datagram framing.
func SanitizeCEFField(s string) string {
	return cefEscapeReplacer.Replace(s)
}
