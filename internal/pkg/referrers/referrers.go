package referrers

import (
	"net/url"
	"strings"
)

// knownReferrers maps the hosts of common traffic sources to display names.
var knownReferrers = map[string]string{
	// Search engines
	"google.com":       "Google",
	"google.co.uk":     "Google",
	"google.de":        "Google",
	"google.fr":        "Google",
	"google.es":        "Google",
	"google.it":        "Google",
	"google.ca":        "Google",
	"google.com.au":    "Google",
	"google.co.jp":     "Google",
	"google.com.br":    "Google",
	"bing.com":         "Bing",
	"duckduckgo.com":   "DuckDuckGo",
	"yahoo.com":        "Yahoo",
	"baidu.com":        "Baidu",
	"yandex.ru":        "Yandex",
	"ecosia.org":       "Ecosia",
	"kagi.com":         "Kagi",

	// Social media
	"x.com":            "X/Twitter",
	"twitter.com":      "X/Twitter",
	"t.co":             "X/Twitter",
	"facebook.com":     "Facebook",
	"fb.com":           "Facebook",
	"l.facebook.com":   "Facebook",
	"lm.facebook.com":  "Facebook",
	"instagram.com":    "Instagram",
	"l.instagram.com":  "Instagram",
	"linkedin.com":     "LinkedIn",
	"lnkd.in":          "LinkedIn",
	"tiktok.com":       "TikTok",
	"pinterest.com":    "Pinterest",
	"reddit.com":       "Reddit",
	"old.reddit.com":   "Reddit",
	"threads.net":      "Threads",
	"bsky.app":         "Bluesky",
	"mastodon.social":  "Mastodon",
	"youtube.com":      "YouTube",
	"youtu.be":         "YouTube",
	"snapchat.com":     "Snapchat",
	"discord.com":      "Discord",
	"discordapp.com":   "Discord",
	"whatsapp.com":     "WhatsApp",
	"telegram.org":     "Telegram",
	"t.me":             "Telegram",
	"slack.com":        "Slack",

	// Tech communities
	"news.ycombinator.com": "Hacker News",
	"hn.algolia.com":       "Hacker News",
	"lobste.rs":            "Lobsters",
	"producthunt.com":      "Product Hunt",
	"indiehackers.com":     "Indie Hackers",
	"dev.to":               "DEV Community",
	"hashnode.com":         "Hashnode",
	"medium.com":           "Medium",
	"substack.com":         "Substack",
	"hackernoon.com":       "HackerNoon",
	"slashdot.org":         "Slashdot",
	"techcrunch.com":       "TechCrunch",
	"theverge.com":         "The Verge",
	"arstechnica.com":      "Ars Technica",
	"wired.com":            "Wired",
	"github.com":           "GitHub",
	"gitlab.com":           "GitLab",
	"stackoverflow.com":    "Stack Overflow",
	"quora.com":            "Quora",

	// News
	"nytimes.com":       "NY Times",
	"washingtonpost.com": "Washington Post",
	"theguardian.com":   "The Guardian",
	"bbc.com":           "BBC",
	"bbc.co.uk":         "BBC",
	"cnn.com":           "CNN",
	"reuters.com":       "Reuters",
	"bloomberg.com":     "Bloomberg",
	"forbes.com":        "Forbes",
	"wsj.com":           "WSJ",
	"ft.com":            "Financial Times",

	// Email providers (for newsletter clicks)
	"mail.google.com":    "Gmail",
	"outlook.live.com":   "Outlook",
	"outlook.office.com": "Outlook",
	"mail.yahoo.com":     "Yahoo Mail",
	"protonmail.com":     "Proton Mail",
	"mail.proton.me":     "Proton Mail",

	// Link shorteners
	"bit.ly":      "Bitly",
	"tinyurl.com": "TinyURL",
	"goo.gl":      "Google Links",
	"ow.ly":       "Hootsuite",
}

// Source returns the display name of the site a referrer URL points at.
// Referrers without a web host, such as "direct" or app schemes, return "".
func Source(referrer string) string {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return ""
	}
	if !strings.Contains(referrer, "://") {
		referrer = "//" + referrer
	}
	u, err := url.Parse(referrer)
	if err != nil || !strings.Contains(u.Hostname(), ".") {
		return ""
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return Name(u.Hostname())
}

// Name maps a hostname to its display name. Subdomains of a known site take
// the site's name, the closest parent winning. Unknown hosts are returned
// without "www." and with the first letter upper-cased.
func Name(hostname string) string {
	hostname = strings.TrimSuffix(strings.ToLower(hostname), ".")

	for host := hostname; host != ""; {
		if name, ok := knownReferrers[host]; ok {
			return name
		}
		dot := strings.IndexByte(host, '.')
		if dot == -1 {
			break
		}
		host = host[dot+1:]
	}

	hostname = strings.TrimPrefix(hostname, "www.")
	if hostname == "" {
		return ""
	}
	return strings.ToUpper(hostname[:1]) + hostname[1:]
}
