// Package portal is the adapter for the subscriber web portal editions are
// fetched from. It owns the session cookie, the listing selectors and the
// tolerant date parsing; retry and skip decisions stay with the callers.
package portal

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"github.com/pressbote/pressbote/internal/edition"
	"github.com/pressbote/pressbote/internal/fault"
)

const userAgent = "pressbote/1.0"

// Source lists and downloads editions. Implemented by *Client; the delivery
// and backfill paths depend on this interface so tests can substitute a
// canned portal.
type Source interface {
	Editions(ctx context.Context, subscriptionID string, page int) ([]edition.Edition, bool, error)
	Download(ctx context.Context, fileURL string) ([]byte, error)
}

// Subscription is one subscription row of the portal account. The id changes
// when the provider renews a subscription; the number is the stable contract
// reference used to recognize renewals.
type Subscription struct {
	ID         string
	Number     string
	Title      string
	ValidFrom  *string // ISO date when the portal shows one
	ValidUntil *string
}

// Client is an authenticated portal session.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a portal client for the given base URL. Login must succeed
// before any listing or download call.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Jar:     jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Login posts the account credentials and keeps the session cookie. A
// rejected login surfaces as fault.AuthError, which aborts the whole run.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return &fault.ConfigError{Setting: "portal credentials", Reason: "username or password not set in the environment"}
	}

	form := url.Values{
		"username": {username},
		"password": {password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return &fault.TransientError{Op: "portal login", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &fault.AuthError{Service: "portal"}
	}
	if resp.StatusCode >= 400 {
		return &fault.TransientError{Op: "portal login", Err: fmt.Errorf("status %s", resp.Status)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("parsing login response: %w", err)
	}
	// The portal answers a failed login with the login form again.
	if doc.Find("form#login").Length() > 0 {
		return &fault.AuthError{Service: "portal"}
	}
	return nil
}

// Subscriptions lists the subscriptions visible on the account page.
func (c *Client) Subscriptions(ctx context.Context) ([]Subscription, error) {
	doc, err := c.fetchDocument(ctx, c.baseURL+"/konto/abos")
	if err != nil {
		return nil, err
	}

	var subs []Subscription
	doc.Find("table.abo-liste tbody tr").Each(func(_ int, row *goquery.Selection) {
		id, _ := row.Attr("data-abo-id")
		sub := Subscription{
			ID:     strings.TrimSpace(id),
			Number: cellText(row, "td.abo-nummer"),
			Title:  cellText(row, "td.abo-titel"),
		}
		if sub.ID == "" || sub.Title == "" {
			log.Printf("skipping subscription row without id or title")
			return
		}
		sub.ValidFrom = isoDate(cellText(row, "td.abo-beginn"))
		sub.ValidUntil = isoDate(cellText(row, "td.abo-ende"))
		subs = append(subs, sub)
	})
	return subs, nil
}

// Editions returns the edition rows of one archive page, in page order, plus
// a flag telling whether another page follows.
func (c *Client) Editions(ctx context.Context, subscriptionID string, page int) ([]edition.Edition, bool, error) {
	listURL := fmt.Sprintf("%s/konto/abos/%s/ausgaben?seite=%d", c.baseURL, url.PathEscape(subscriptionID), page)
	doc, err := c.fetchDocument(ctx, listURL)
	if err != nil {
		return nil, false, err
	}

	var editions []edition.Edition
	doc.Find("table.ausgaben tbody tr").Each(func(_ int, row *goquery.Selection) {
		title := cellText(row, "td.titel")
		download, _ := row.Find("td.download a").Attr("href")
		detail, _ := row.Find("td.titel a").Attr("href")

		published, perr := dateparse.ParseAny(cellText(row, "td.datum"), dateparse.PreferMonthFirst(false))
		if title == "" || download == "" || perr != nil {
			log.Printf("skipping unusable edition row (title %q): %v", title, perr)
			return
		}

		editions = append(editions, edition.Edition{
			Title:       title,
			Date:        published,
			DownloadURL: c.absoluteURL(download),
			DetailURL:   c.absoluteURL(detail),
		})
	})

	hasMore := doc.Find("a[rel=next]").Length() > 0
	return editions, hasMore, nil
}

// Download fetches one edition payload. The content type is checked so an
// HTML error page is never stored as an edition.
func (c *Client) Download(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &fault.TransientError{Op: "edition download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &fault.AuthError{Service: "portal"}
	}
	if resp.StatusCode >= 400 {
		return nil, &fault.TransientError{Op: "edition download", Err: fmt.Errorf("status %s", resp.Status)}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "pdf") && !strings.Contains(contentType, "octet-stream") {
		return nil, fmt.Errorf("unexpected content type %q for %s", contentType, fileURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &fault.TransientError{Op: "edition download", Err: err}
	}
	return data, nil
}

func (c *Client) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &fault.TransientError{Op: "portal fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &fault.AuthError{Service: "portal"}
	}
	if resp.StatusCode >= 400 {
		return nil, &fault.TransientError{Op: "portal fetch", Err: fmt.Errorf("%s: status %s", pageURL, resp.Status)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", pageURL, err)
	}
	// An expired session bounces to the login page instead of a 401.
	if doc.Find("form#login").Length() > 0 {
		return nil, &fault.AuthError{Service: "portal"}
	}
	return doc, nil
}

// absoluteURL resolves a listing href against the portal base URL.
func (c *Client) absoluteURL(href string) string {
	if href == "" {
		return ""
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func cellText(row *goquery.Selection, selector string) string {
	return strings.TrimSpace(row.Find(selector).First().Text())
}

// isoDate converts a portal-facing date string ("02.01.2006", ISO, ...) into
// an ISO date pointer, nil when the cell is empty or unreadable.
func isoDate(s string) *string {
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseAny(s, dateparse.PreferMonthFirst(false))
	if err != nil {
		return nil
	}
	iso := t.Format("2006-01-02")
	return &iso
}
