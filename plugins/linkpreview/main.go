package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/meszmate/inbox/pkg/plugin"
)

var (
	urlRegex   = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`)
	titleRegex = regexp.MustCompile(`<title[^>]*>([^<]+)</title>`)
)

// LinkPreviewPlugin resolves links in plain text messages and probes
// out-of-band attachments, writing what it finds to stderr.
type LinkPreviewPlugin struct {
	client *http.Client
	out    io.Writer
}

// Name returns the plugin name
func (p *LinkPreviewPlugin) Name() string {
	return "linkpreview"
}

// Version returns the plugin version
func (p *LinkPreviewPlugin) Version() string {
	return "1.0.0"
}

// Description returns a short description
func (p *LinkPreviewPlugin) Description() string {
	return "Preview links and probe attachments of stored messages"
}

// Notify handles a single notification. Encrypted messages are skipped,
// their body is not readable here.
func (p *LinkPreviewPlugin) Notify(n plugin.Notification) error {
	if n.Kind != plugin.KindMessage {
		return nil
	}

	if n.Attachment != "" {
		if info := probeAttachment(p.client, n.Attachment); info != "" {
			fmt.Fprintf(p.out, "%s attachment %s: %s\n", n.JID, n.Attachment, info)
		}
	}

	if n.Encrypted {
		return nil
	}
	for _, url := range extractURLs(n.Body) {
		if title, description := fetchURLMeta(p.client, url); title != "" {
			preview := title
			if description != "" {
				preview += ": " + truncate(description, 100)
			}
			fmt.Fprintf(p.out, "%s linked %s: %s\n", n.JID, url, preview)
		}
	}
	return nil
}

// extractURLs extracts URLs from text
func extractURLs(text string) []string {
	return urlRegex.FindAllString(text, -1)
}

// probeAttachment reports the type and size the server announces for url
func probeAttachment(client *http.Client, url string) string {
	resp, err := client.Head(url)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.Status
	}
	info := resp.Header.Get("Content-Type")
	if resp.ContentLength >= 0 {
		info += fmt.Sprintf(", %d bytes", resp.ContentLength)
	}
	return strings.TrimPrefix(info, ", ")
}

// fetchURLMeta fetches title and description from a URL
func fetchURLMeta(client *http.Client, url string) (string, string) {
	resp, err := client.Get(url)
	if err != nil {
		return "", ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", ""
	}

	// Read limited body
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*100))
	if err != nil {
		return "", ""
	}
	html := string(body)

	title := extractMetaTag(html, "og:title")
	if title == "" {
		title = extractHTMLTitle(html)
	}

	description := extractMetaTag(html, "og:description")
	if description == "" {
		description = extractMetaTag(html, "description")
	}

	return title, description
}

// extractMetaTag extracts a meta tag value
func extractMetaTag(html, name string) string {
	patterns := []string{
		`<meta[^>]+property=["']` + name + `["'][^>]+content=["']([^"']+)["']`,
		`<meta[^>]+content=["']([^"']+)["'][^>]+property=["']` + name + `["']`,
		`<meta[^>]+name=["']` + name + `["'][^>]+content=["']([^"']+)["']`,
		`<meta[^>]+content=["']([^"']+)["'][^>]+name=["']` + name + `["']`,
	}

	for _, pattern := range patterns {
		re := regexp.MustCompile(pattern)
		if matches := re.FindStringSubmatch(html); len(matches) > 1 {
			return strings.TrimSpace(matches[1])
		}
	}
	return ""
}

// extractHTMLTitle extracts the <title> tag
func extractHTMLTitle(html string) string {
	if matches := titleRegex.FindStringSubmatch(html); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return ""
}

// truncate truncates a string to max length
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	plugin.Serve(&LinkPreviewPlugin{
		client: &http.Client{Timeout: 5 * time.Second},
		out:    os.Stderr,
	})
}
