package seeder

// journeyTemplates are the paths visitors take through the site.
var journeyTemplates = [][]string{
	{"/", "/about", "/contact"},
	{"/", "/features", "/pricing", "/signup"},
	{"/", "/blog", "/blog/article-1", "/signup"},
	{"/pricing", "/features", "/signup"},
	{"/", "/products", "/products/widget-a", "/products/gadget-b", "/pricing"},
	{"/", "/docs", "/docs/getting-started", "/docs/api-reference"},
	{"/", "/blog", "/blog/article-1", "/blog/article-2"},
	{"/", "/signup"},
	{"/blog/article-1"},
	{"/"},
	{"/login", "/dashboard", "/settings"},
}

var goalEvents = []struct {
	name       string
	properties map[string]any
}{
	{name: "newsletter_signup", properties: map[string]any{"source": "footer"}},
	{name: "demo_requested", properties: map[string]any{"plan": "enterprise"}},
	{name: "download_started", properties: map[string]any{"filename": "whitepaper.pdf"}},
	{name: "contact_form_submitted", properties: map[string]any{"subject": "General Inquiry"}},
	{name: "free_trial_started", properties: map[string]any{"plan": "pro", "duration": "14_days"}},
}

type deviceProfile struct {
	deviceType string
	os         string
	browser    string
	userAgent  string
}

var deviceProfiles = []deviceProfile{
	{"desktop", "Windows", "Chrome", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"},
	{"desktop", "macOS", "Safari", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15"},
	{"mobile", "iOS", "Safari", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"},
	{"mobile", "Android", "Chrome", "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"},
	{"desktop", "Linux", "Firefox", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"},
	{"tablet", "iPadOS", "Safari", "Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"},
}

var countries = []string{"US", "US", "US", "GB", "DE", "FR", "ES", "BR", "IN", "JP", "CA", "AU"}

var referrerPool = []string{
	"",
	"",
	"https://www.google.com/",
	"https://bing.com/",
	"https://duckduckgo.com/",
	"https://news.ycombinator.com/item?id=1",
	"https://twitter.com/",
	"https://www.linkedin.com/feed/",
	"https://github.com/",
	"https://some-other-website.com/blog/post",
}

var utmOptions = []struct {
	key    string
	values []string
}{
	{"utm_source", []string{"google", "facebook", "newsletter", "twitter", "linkedin"}},
	{"utm_medium", []string{"cpc", "social", "email", "organic", "referral"}},
	{"utm_campaign", []string{"spring_sale", "product_launch", "dev_outreach", "q4_promo"}},
}
