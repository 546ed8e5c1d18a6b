package linkedin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/ifuryst/autopost/internal/config"
	"github.com/ifuryst/autopost/internal/service/publisher"
)

const (
	Name = "linkedin"

	loginURL = "https://www.linkedin.com/login"
	feedURL  = "https://www.linkedin.com/feed/"

	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"
)

// Selectors change whenever LinkedIn ships a new feed, so each step tries a
// list in order.
var (
	startPostSelectors = []string{
		"button.artdeco-button--muted.artdeco-button--4.artdeco-button--tertiary",
		"button.share-box-feed-entry__trigger",
		`button[aria-label="Start a post"]`,
		".share-box-feed-entry__trigger",
		"button.artdeco-button--tertiary",
	}
	editorSelectors = []string{
		`div.ql-editor[contenteditable="true"]`,
		`div[data-placeholder="What do you want to talk about?"]`,
		"div.share-creation-state__text-editor",
	}
	fileInputSelectors = []string{
		`input[type="file"][accept*="image"]`,
		`input[name="image-file-upload"]`,
	}
	postButtonSelectors = []string{
		"button.share-actions__primary-action",
		`button[aria-label="Post"]`,
		"button.artdeco-button--primary",
		"button[data-test-share-actions-primary-action]",
		"button.share-actions__primary-action.artdeco-button--primary",
	}
)

// Timings between browser steps.
type Timings struct {
	Selector      time.Duration
	LoginRedirect time.Duration
	Checkpoint    time.Duration
	FeedSettle    time.Duration
	ModalSettle   time.Duration
	ImageSettle   time.Duration
	PostSettle    time.Duration
}

var DefaultTimings = Timings{
	Selector:      5 * time.Second,
	LoginRedirect: 2 * time.Minute,
	Checkpoint:    60 * time.Second,
	FeedSettle:    3 * time.Second,
	ModalSettle:   2 * time.Second,
	ImageSettle:   3 * time.Second,
	PostSettle:    5 * time.Second,
}

var ErrMissingCredentials = errors.New("linkedin credentials not configured")

// Publisher drives a headless Chrome through the LinkedIn web composer. Each
// call starts a fresh browser and closes it when done.
type Publisher struct {
	cfg     config.LinkedInConfig
	timings Timings
	logger  *zap.Logger
}

func NewPublisher(cfg config.LinkedInConfig, logger *zap.Logger) *Publisher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &Publisher{
		cfg:     cfg,
		timings: DefaultTimings,
		logger:  logger.With(zap.String("publisher", Name)),
	}
}

func (p *Publisher) Name() string {
	return Name
}

func (p *Publisher) Publish(ctx context.Context, caption, imagePath string) (publisher.Outcome, error) {
	if p.cfg.Email == "" || p.cfg.Password == "" {
		return publisher.Outcome{}, ErrMissingCredentials
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.cfg.IsHeadless()),
		chromedp.UserAgent(p.cfg.UserAgent),
		chromedp.WindowSize(1280, 800),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(p.logger.Sugar().Debugf),
		chromedp.WithErrorf(p.logger.Sugar().Debugf),
	)
	defer cancelBrowser()

	p.logger.Info("Launching browser", zap.Bool("headless", p.cfg.IsHeadless()))

	if err := p.login(browserCtx); err != nil {
		p.screenshot(browserCtx, "login")
		return publisher.Outcome{}, err
	}

	url, err := p.createPost(browserCtx, caption, imagePath)
	if err != nil {
		p.screenshot(browserCtx, "post")
		return publisher.Outcome{}, err
	}

	p.logger.Info("Post published", zap.String("url", url))
	return publisher.Outcome{URL: url}, nil
}

func (p *Publisher) login(ctx context.Context) error {
	p.logger.Info("Logging in")

	err := chromedp.Run(ctx,
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible("#username", chromedp.ByQuery),
		chromedp.SendKeys("#username", p.cfg.Email, chromedp.ByQuery),
		chromedp.SendKeys("#password", p.cfg.Password, chromedp.ByQuery),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("login form: %w", err)
	}

	current, err := p.waitForRedirect(ctx)
	if err != nil {
		return err
	}

	if strings.Contains(current, "/checkpoint/challenge") {
		p.logger.Warn("Security checkpoint detected, waiting for manual verification",
			zap.Duration("wait", p.timings.Checkpoint))
		if err := chromedp.Run(ctx, chromedp.Sleep(p.timings.Checkpoint)); err != nil {
			return fmt.Errorf("checkpoint wait: %w", err)
		}
	}

	p.logger.Info("Login successful")
	return nil
}

// waitForRedirect polls the page location until LinkedIn leaves the login
// form for the feed or a security checkpoint.
func (p *Publisher) waitForRedirect(ctx context.Context) (string, error) {
	deadline := time.Now().Add(p.timings.LoginRedirect)
	var current string
	for time.Now().Before(deadline) {
		if err := chromedp.Run(ctx, chromedp.Location(&current)); err != nil {
			return "", fmt.Errorf("read location: %w", err)
		}
		if strings.Contains(current, "/feed") || strings.Contains(current, "/checkpoint/challenge") {
			return current, nil
		}
		if err := chromedp.Run(ctx, chromedp.Sleep(time.Second)); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("login failed: unexpected redirect to %s", current)
}

func (p *Publisher) createPost(ctx context.Context, caption, imagePath string) (string, error) {
	err := chromedp.Run(ctx,
		chromedp.Navigate(feedURL),
		chromedp.Sleep(p.timings.FeedSettle),
	)
	if err != nil {
		return "", fmt.Errorf("open feed: %w", err)
	}

	if _, err := p.firstMatch(ctx, startPostSelectors, func(sel string) chromedp.Tasks {
		return chromedp.Tasks{
			chromedp.WaitVisible(sel, chromedp.ByQuery),
			chromedp.Click(sel, chromedp.ByQuery),
		}
	}); err != nil {
		return "", fmt.Errorf("could not find start post button: %w", err)
	}

	if err := chromedp.Run(ctx, chromedp.Sleep(p.timings.ModalSettle)); err != nil {
		return "", err
	}

	if _, err := p.firstMatch(ctx, editorSelectors, func(sel string) chromedp.Tasks {
		return chromedp.Tasks{
			chromedp.WaitVisible(sel, chromedp.ByQuery),
			chromedp.Click(sel, chromedp.ByQuery),
			chromedp.SendKeys(sel, caption, chromedp.ByQuery),
		}
	}); err != nil {
		return "", fmt.Errorf("could not find post editor: %w", err)
	}
	p.logger.Debug("Caption entered", zap.Int("length", len(caption)))

	if imagePath != "" {
		p.attachImage(ctx, imagePath)
	}

	if err := p.clickPost(ctx); err != nil {
		return "", err
	}

	var url string
	err = chromedp.Run(ctx,
		chromedp.Sleep(p.timings.PostSettle),
		chromedp.Location(&url),
	)
	if err != nil {
		return "", fmt.Errorf("confirm post: %w", err)
	}
	return url, nil
}

// firstMatch runs the tasks built for each selector until one succeeds
// within the per-selector timeout.
func (p *Publisher) firstMatch(ctx context.Context, selectors []string, build func(sel string) chromedp.Tasks) (string, error) {
	var lastErr error
	for _, sel := range selectors {
		sctx, cancel := context.WithTimeout(ctx, p.timings.Selector)
		err := chromedp.Run(sctx, build(sel))
		cancel()
		if err == nil {
			return sel, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.logger.Debug("Selector not usable, trying next", zap.String("selector", sel), zap.Error(err))
		lastErr = err
	}
	return "", fmt.Errorf("none of %d selectors matched: %w", len(selectors), lastErr)
}

// attachImage uploads the image when the composer exposes a file input. A
// missing input is not fatal.
func (p *Publisher) attachImage(ctx context.Context, imagePath string) {
	abs, err := filepath.Abs(imagePath)
	if err != nil {
		abs = imagePath
	}

	for _, sel := range fileInputSelectors {
		var nodes []*cdp.Node
		if err := chromedp.Run(ctx, chromedp.Nodes(sel, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil || len(nodes) == 0 {
			continue
		}

		err := chromedp.Run(ctx,
			chromedp.SetUploadFiles(sel, []string{abs}, chromedp.ByQuery),
			chromedp.Sleep(p.timings.ImageSettle),
		)
		if err != nil {
			p.logger.Warn("Image upload failed, posting without image", zap.Error(err))
			return
		}
		p.logger.Info("Image uploaded", zap.String("path", abs))
		return
	}

	p.logger.Warn("Could not find image upload input, posting without image")
}

func (p *Publisher) clickPost(ctx context.Context) error {
	for _, sel := range postButtonSelectors {
		var nodes []*cdp.Node
		if err := chromedp.Run(ctx, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		for _, node := range nodes {
			if _, disabled := node.Attribute("disabled"); disabled || node.AttributeValue("aria-disabled") == "true" {
				continue
			}
			if err := chromedp.Run(ctx, chromedp.MouseClickNode(node)); err != nil {
				p.logger.Debug("Post button click failed", zap.String("selector", sel), zap.Error(err))
				continue
			}
			p.logger.Debug("Post button clicked", zap.String("selector", sel))
			return nil
		}
	}
	return errors.New("could not find or click post button")
}

func (p *Publisher) screenshot(ctx context.Context, step string) {
	if p.cfg.DebugDir == "" || ctx.Err() != nil {
		return
	}

	var buf []byte
	sctx, cancel := context.WithTimeout(ctx, p.timings.Selector)
	defer cancel()
	if err := chromedp.Run(sctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		p.logger.Debug("Screenshot failed", zap.Error(err))
		return
	}

	if err := os.MkdirAll(p.cfg.DebugDir, 0o755); err != nil {
		p.logger.Warn("Failed to create debug dir", zap.Error(err))
		return
	}
	path := filepath.Join(p.cfg.DebugDir, fmt.Sprintf("linkedin-%s-%d.png", step, time.Now().Unix()))
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		p.logger.Warn("Failed to write screenshot", zap.Error(err))
		return
	}
	p.logger.Info("Debug screenshot saved", zap.String("path", path))
}
