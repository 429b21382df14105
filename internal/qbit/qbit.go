// Package qbit implements the download client contract against the
// qBittorrent Web API (v2).
package qbit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grabarr/grabarr/internal/download"
	"github.com/grabarr/grabarr/internal/errs"
	"github.com/grabarr/grabarr/internal/httpclient"
)

const serviceName = "qbittorrent"

// Config holds qBittorrent connection settings.
type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// Client talks to one qBittorrent instance. The client id handed back to
// the queue is the torrent's info hash.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a qBittorrent client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errs.Configuration("qbittorrent url must be set")
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: httpclient.New(&httpclient.Config{Timeout: timeout, CookieJar: true}),
	}, nil
}

// Name identifies the client in breakers, logs, and alerts.
func (c *Client) Name() string {
	return serviceName
}

// torrentInfo is the subset of qBittorrent's torrent object the core needs.
type torrentInfo struct {
	Hash       string  `json:"hash"`
	Name       string  `json:"name"`
	State      string  `json:"state"`
	Progress   float64 `json:"progress"`
	Dlspeed    int64   `json:"dlspeed"`
	Upspeed    int64   `json:"upspeed"`
	Downloaded int64   `json:"downloaded"`
	Uploaded   int64   `json:"uploaded"`
	Eta        int64   `json:"eta"`
	NumSeeds   int     `json:"num_seeds"`
	NumLeechs  int     `json:"num_leechs"`
	SavePath   string  `json:"save_path"`
}

func (c *Client) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.URL+"/api/v2/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return errs.Network(serviceName, "login", err)
	}
	req.Header.Set("Referer", c.cfg.URL)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Network(serviceName, "login", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || strings.Contains(string(body), "Fails") {
		return errs.Authentication(serviceName, "login rejected: "+resp.Status)
	}
	return nil
}

// ensureSession logs in when the jar has no SID cookie for the host yet.
func (c *Client) ensureSession(ctx context.Context) error {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return errs.Configuration("invalid qbittorrent url: " + err.Error())
	}
	if c.http.Jar != nil && len(c.http.Jar.Cookies(u)) > 0 {
		return nil
	}
	return c.login(ctx)
}

// Add submits a torrent URL (or magnet) and returns its info hash.
func (c *Client) Add(ctx context.Context, downloadURL, category, savePath string) (string, error) {
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("urls", downloadURL)
	if category != "" {
		form.Set("category", category)
	}
	if savePath != "" {
		form.Set("savepath", savePath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.URL+"/api/v2/torrents/add", strings.NewReader(form.Encode()))
	if err != nil {
		return "", errs.Network(serviceName, "add", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errs.Network(serviceName, "add", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "add"); err != nil {
		return "", err
	}

	hash := hashFromURL(downloadURL)
	if hash == "" {
		// Fall back to the newest torrent; qBittorrent's add endpoint
		// returns no identifier.
		infos, err := c.list(ctx, "?sort=added_on&reverse=true&limit=1")
		if err != nil {
			return "", err
		}
		if len(infos) == 0 {
			return "", errs.External(serviceName, "torrent not visible after add", nil)
		}
		hash = infos[0].Hash
	}
	return strings.ToLower(hash), nil
}

// Status reports one torrent's state, or nil when qBittorrent no longer
// tracks the hash.
func (c *Client) Status(ctx context.Context, clientID string) (*download.ClientStatus, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	infos, err := c.list(ctx, "?hashes="+url.QueryEscape(clientID))
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, nil
	}

	info := infos[0]
	return &download.ClientStatus{
		Status:          mapState(info.State),
		Progress:        info.Progress,
		DownloadSpeed:   info.Dlspeed,
		UploadSpeed:     info.Upspeed,
		DownloadedBytes: info.Downloaded,
		UploadedBytes:   info.Uploaded,
		ETASeconds:      info.Eta,
		Seeders:         info.NumSeeds,
		Leechers:        info.NumLeechs,
		SavePath:        info.SavePath,
	}, nil
}

// Remove deletes a torrent, optionally with its files.
func (c *Client) Remove(ctx context.Context, clientID string, deleteFiles bool) error {
	form := url.Values{}
	form.Set("hashes", clientID)
	form.Set("deleteFiles", fmt.Sprintf("%t", deleteFiles))
	return c.post(ctx, "/api/v2/torrents/delete", form)
}

// Pause pauses a torrent.
func (c *Client) Pause(ctx context.Context, clientID string) error {
	form := url.Values{}
	form.Set("hashes", clientID)
	return c.post(ctx, "/api/v2/torrents/pause", form)
}

// Resume resumes a paused torrent.
func (c *Client) Resume(ctx context.Context, clientID string) error {
	form := url.Values{}
	form.Set("hashes", clientID)
	return c.post(ctx, "/api/v2/torrents/resume", form)
}

// ListAll enumerates every torrent the client tracks.
func (c *Client) ListAll(ctx context.Context) ([]download.Download, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	infos, err := c.list(ctx, "")
	if err != nil {
		return nil, err
	}

	out := make([]download.Download, 0, len(infos))
	for _, info := range infos {
		out = append(out, download.Download{
			ClientID: info.Hash,
			Name:     info.Name,
			Status: download.ClientStatus{
				Status:   mapState(info.State),
				Progress: info.Progress,
			},
		})
	}
	return out, nil
}

func (c *Client) list(ctx context.Context, query string) ([]torrentInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.URL+"/api/v2/torrents/info"+query, nil)
	if err != nil {
		return nil, errs.Network(serviceName, "info", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Network(serviceName, "info", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "info"); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Network(serviceName, "info", err)
	}

	var infos []torrentInfo
	if err := json.Unmarshal(body, &infos); err != nil {
		return nil, errs.Serialization(serviceName, "decoding torrent list", err)
	}
	return infos, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.URL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return errs.Network(serviceName, path, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Network(serviceName, path, err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, path)
}

func checkStatus(resp *http.Response, op string) error {
	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return errs.Authentication(serviceName, op+": "+resp.Status)
	case resp.StatusCode == http.StatusNotFound:
		return errs.NotFound(serviceName, op+": "+resp.Status)
	case resp.StatusCode >= 500:
		return errs.External(serviceName, op+": "+resp.Status, nil)
	case resp.StatusCode >= 400:
		return errs.Validation(op, resp.Status)
	}
	return nil
}

// mapState translates qBittorrent's state names into the external status
// vocabulary the queue processor's mapping table understands.
func mapState(state string) string {
	switch state {
	case "downloading", "forcedDL":
		return "downloading"
	case "stalledDL":
		return "stalled_dl"
	case "uploading", "forcedUP":
		return "uploading"
	case "stalledUP":
		return "stalled_up"
	case "pausedDL":
		return "paused_dl"
	case "pausedUP", "stoppedUP":
		return "paused_up"
	case "error", "missingFiles":
		return "error"
	case "queuedDL", "queuedUP", "checkingDL", "checkingUP", "metaDL", "allocating":
		return state
	default:
		return state
	}
}

// hashFromURL extracts the info hash from a magnet link, if present.
func hashFromURL(downloadURL string) string {
	if !strings.HasPrefix(downloadURL, "magnet:") {
		return ""
	}
	u, err := url.Parse(downloadURL)
	if err != nil {
		return ""
	}
	for _, xt := range u.Query()["xt"] {
		if strings.HasPrefix(xt, "urn:btih:") {
			return strings.TrimPrefix(xt, "urn:btih:")
		}
	}
	return ""
}
