package events

import (
	"log/slog"
	"net/url"
	"strings"

	"pulse/internal/pkg/geoip"
)

// NormalizeOperatingSystem normalizes operating system names to standardize them
func NormalizeOperatingSystem(os string) string {
	if os == "" {
		return ""
	}

	osLower := strings.ToLower(os)

	switch {
	case strings.Contains(osLower, "mac") || strings.Contains(osLower, "darwin"):
		return "MacOS"
	case strings.Contains(osLower, "linux"):
		return "Linux"
	case strings.Contains(osLower, "ios") || strings.Contains(osLower, "iphone os"):
		return "iOS"
	case strings.Contains(osLower, "android"):
		return "Android"
	case strings.Contains(osLower, "windows"):
		return "Windows"
	}

	return strings.ToUpper(os[:1]) + strings.ToLower(os[1:])
}

// GetCountryFromIP resolves an IP address to an upper-case ISO country code,
// or "" when GeoIP is disabled or the address is unknown.
func GetCountryFromIP(logger *slog.Logger, ipAddress string) string {
	code, err := geoip.CountryCode(ipAddress)
	if err != nil {
		logger.Debug("Country lookup skipped",
			slog.String("ip_address", ipAddress),
			slog.Any("error", err))
		return ""
	}
	return code
}

// normalizeCountry upper-cases two-letter codes and leaves names untouched.
func normalizeCountry(country string) string {
	country = strings.TrimSpace(country)
	if len(country) == 2 {
		return strings.ToUpper(country)
	}
	return country
}

// pathFromURL extracts the path of a page URL, "/" for a bare host.
func pathFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return ""
	}
	if parsed.Path == "" {
		return "/"
	}
	return parsed.Path
}

// nullable maps empty strings to NULL.
func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// firstNonEmpty returns the first non-empty value.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
