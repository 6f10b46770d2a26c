package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HolbyKate/cooptme/internal/api"
	"github.com/HolbyKate/cooptme/internal/auth"
	"github.com/HolbyKate/cooptme/internal/config"
	"github.com/HolbyKate/cooptme/internal/extractor"
	"github.com/HolbyKate/cooptme/internal/output"
	"github.com/HolbyKate/cooptme/internal/renderer"
	"github.com/HolbyKate/cooptme/internal/scanner"
	"github.com/HolbyKate/cooptme/internal/search"
	"github.com/HolbyKate/cooptme/internal/storage"
	"github.com/HolbyKate/cooptme/pkg/plugin"
)

var version = "1.0.0"

// flags holds all parsed CLI options.
type flags struct {
	command string
	args    []string

	// Scan
	timeout       time.Duration
	parallel      int
	renderer      string
	extractOnLoad bool
	headful       bool
	payloadFile   string
	proxy         string
	headers       []string
	rateLimit     time.Duration
	maxResponse   int

	// Storage
	backend string
	owner   string
	token   string

	// Search
	limit int

	// Serve
	port string

	// Output
	output  string
	silent  bool
	verbose bool
	noColor bool

	configFile string

	showHelp    bool
	showVersion bool
}

func main() {
	enableANSI()
	f := parseFlags(os.Args[1:])

	if f.showVersion || f.command == "version" {
		fmt.Printf("cooptme v%s\n", version)
		os.Exit(0)
	}
	if f.showHelp || f.command == "" || f.command == "help" {
		printUsage()
		if f.command == "" && !f.showHelp {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load(f.configFile)
	if err != nil {
		fatal("configuration: %v", err)
	}
	applyFlags(cfg, f)

	if !f.verbose && f.command != "serve" {
		log.SetOutput(io.Discard)
	}

	// Handle Ctrl+C
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	registerSignals(sig)
	go func() {
		<-sig
		fmt.Fprintf(os.Stderr, "\n\n%s Interrupt received, stopping...\n", clr("yellow", "!"))
		cancel()
	}()

	// Commands return an exit code so their deferred cleanup runs first.
	var code int
	switch f.command {
	case "scan":
		code = runScan(ctx, cfg, f)
	case "list":
		code = runList(ctx, cfg, f)
	case "remove":
		code = runRemove(ctx, cfg, f)
	case "search":
		code = runSearch(cfg, f)
	case "reindex":
		code = runReindex(ctx, cfg, f)
	case "serve":
		code = runServe(ctx, cfg, f)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s (use --help for usage)\n", f.command)
		code = 1
	}
	cancel()
	os.Exit(code)
}

// ---------- Commands ----------

func runScan(ctx context.Context, cfg *config.Config, f *flags) int {
	payloads := f.args
	if f.payloadFile != "" {
		data, err := readPayload(f.payloadFile)
		if err != nil {
			report("read %s: %v", f.payloadFile, err)
			return 1
		}
		payloads = append(payloads, data)
	}
	if len(payloads) == 0 {
		report("scan needs at least one profile URL or scanned payload")
		return 1
	}

	urls := resolveTargets(payloads, f.silent)
	if len(urls) == 0 {
		report("no profile URL found in the input")
		return 1
	}

	holder := sessionHolder(f)
	gw, idx := openStores(cfg, holder)
	defer closeStores(gw, idx)

	r, err := newRenderer(cfg)
	if err != nil {
		report("renderer: %v", err)
		return 1
	}
	s := scanner.New(scanConfig(cfg), r, gw, holder)

	if !f.silent {
		printBanner()
		fmt.Printf("\n  %s %d profile(s)\n", clr("cyan", "Targets:"), len(urls))
		fmt.Printf("  %s %s  %s %d  %s %s\n\n",
			clr("dim", "Renderer:"), r.Name(),
			clr("dim", "Threads:"), cfg.Scan.Parallelism,
			clr("dim", "Storage:"), cfg.Storage.Backend,
		)
	}

	var (
		mu       sync.Mutex
		started  = make(map[string]time.Time)
		took     = make(map[string]time.Duration)
		done     = make(chan struct{})
		runStart = time.Now()
	)
	go func() {
		defer close(done)
		for event := range s.Events() {
			mu.Lock()
			switch event.Type {
			case plugin.EventStateChanged:
				if event.State == plugin.StateRendering {
					started[event.URL] = time.Now()
				}
			case plugin.EventScanSucceeded, plugin.EventScanFailed:
				if t, ok := started[event.URL]; ok {
					took[event.URL] = time.Since(t)
				}
			}
			d := took[event.URL]
			mu.Unlock()

			if !f.silent {
				handleEvent(event, d, f.verbose)
			}
		}
	}()

	outcomes := s.ScanBatch(ctx, urls, scanner.Options{OwnerID: f.owner})
	stats := s.Stats()
	if err := s.Close(); err != nil {
		log.Printf("[scan] close: %v", err)
	}
	<-done

	if f.output != "" {
		w := output.NewTextWriter(f.output)
		for _, o := range outcomes {
			w.WriteOutcome(o, took[o.URL])
		}
		if err := w.Finalize(stats, runStart, time.Since(runStart)); err != nil {
			report("write %s: %v", f.output, err)
			return 1
		}
	}

	if !f.silent {
		fmt.Println()
		fmt.Printf("  %s\n", strings.Repeat("─", 50))
		fmt.Printf("  %s Scan complete\n", clr("green", "✓"))
		fmt.Printf("    Profiles: %s saved, %s failed in %s\n",
			clr("cyan", fmt.Sprintf("%d", stats.Succeeded)),
			clr("red", fmt.Sprintf("%d", stats.Failed)),
			output.FmtDur(time.Since(runStart)),
		)
		if reasons := output.ReasonCounts(stats); reasons != "" {
			fmt.Printf("    Reasons:  %s\n", clr("dim", reasons))
		}
		if f.output != "" {
			fmt.Printf("    Output:   %s\n", clr("green", f.output))
		}
		fmt.Println()
	}

	if stats.Succeeded == 0 {
		return 1
	}
	return 0
}

// resolveTargets turns scanned payloads into profile URLs, dropping the
// payloads with no URL and repeats of a URL already queued.
func resolveTargets(payloads []string, silent bool) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, payload := range payloads {
		c, err := extractor.ResolveCandidate(payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  %s %q: %v\n", clr("yellow", "!"), truncate(payload, 40), err)
			continue
		}
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		if !c.Profile && !silent {
			fmt.Fprintf(os.Stderr, "  %s %s is not a LinkedIn profile link, scanning anyway\n", clr("yellow", "!"), c.URL)
		}
		urls = append(urls, c.URL)
	}
	return urls
}

func readPayload(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

func handleEvent(event plugin.ScanEvent, d time.Duration, verbose bool) {
	switch event.Type {
	case plugin.EventScanSucceeded:
		name := ""
		if event.Profile != nil {
			name = event.Profile.FullName()
		}
		fmt.Printf("  %s %s %s %s\n",
			clr("green", "●"),
			event.URL,
			clr("dim", "("+output.FmtDur(d)+")"),
			clr("bold", name),
		)
		if verbose && event.Profile != nil {
			p := event.Profile
			for _, field := range [][2]string{{"title", p.Title}, {"company", p.Company}, {"location", p.Location}} {
				if field[1] != "" {
					fmt.Printf("      %s %s\n", clr("dim", "├─ "+field[0]+":"), field[1])
				}
			}
		}

	case plugin.EventScanFailed:
		if !event.Reason.Notify() {
			fmt.Printf("  %s %s %s\n", clr("yellow", "-"), event.URL, clr("dim", event.Reason.Message()))
			return
		}
		fmt.Printf("  %s %s %s %s\n",
			clr("red", "✗"),
			event.URL,
			clr("red", "["+string(event.Reason)+"]"),
			event.Reason.Message(),
		)
		if verbose && event.Error != nil {
			fmt.Printf("      %s %v\n", clr("dim", "└─"), event.Error)
		}

	case plugin.EventStateChanged, plugin.EventScriptInjected, plugin.EventMessageReceived:
		if verbose {
			fmt.Printf("    %s %s %s\n", clr("dim", "·"), clr("dim", event.URL), clr("dim", eventDetail(event)))
		}
	}
}

func eventDetail(event plugin.ScanEvent) string {
	if event.Type == plugin.EventStateChanged {
		return "→ " + string(event.State)
	}
	return event.Message
}

func runList(ctx context.Context, cfg *config.Config, f *flags) int {
	gw, idx := openStores(cfg, sessionHolder(f))
	defer closeStores(gw, idx)

	profiles, err := gw.List(ctx, f.owner)
	if err != nil {
		report("list: %v", err)
		return 1
	}
	if len(profiles) == 0 {
		fmt.Println("  No profiles stored yet.")
		return 0
	}
	if err := output.WriteProfiles(os.Stdout, profiles); err != nil {
		report("list: %v", err)
		return 1
	}
	return 0
}

func runRemove(ctx context.Context, cfg *config.Config, f *flags) int {
	if len(f.args) == 0 {
		report("remove needs a profile URL")
		return 1
	}
	gw, idx := openStores(cfg, sessionHolder(f))
	defer closeStores(gw, idx)

	code := 0
	for _, u := range f.args {
		removed, err := gw.Remove(ctx, f.owner, u)
		switch {
		case err != nil:
			code = 1
			fmt.Printf("  %s %s %v\n", clr("red", "✗"), u, err)
		case removed:
			fmt.Printf("  %s %s removed\n", clr("green", "✓"), u)
		default:
			fmt.Printf("  %s %s not stored\n", clr("yellow", "-"), u)
		}
	}
	return code
}

func runSearch(cfg *config.Config, f *flags) int {
	if !cfg.Search.Enabled {
		report("search is disabled in the configuration")
		return 1
	}
	idx, err := search.Open(cfg.Search.IndexPath)
	if err != nil {
		report("open index: %v", err)
		return 1
	}
	defer idx.Close()

	results, err := idx.Search(strings.Join(f.args, " "), f.owner, f.limit)
	if err != nil {
		report("%v", err)
		return 1
	}
	if len(results) == 0 {
		fmt.Println("  No matching profiles.")
		return 0
	}
	for _, r := range results {
		fmt.Printf("  %s %s %s\n", clr("cyan", fmt.Sprintf("%.2f", r.Score)), clr("bold", r.FullName), clr("dim", r.ProfileURL))
		for _, line := range []string{r.Title, r.Company, r.Location} {
			if line != "" {
				fmt.Printf("      %s\n", line)
			}
		}
	}
	return 0
}

func runReindex(ctx context.Context, cfg *config.Config, f *flags) int {
	if !cfg.Search.Enabled {
		report("search is disabled in the configuration")
		return 1
	}
	gw, idx := openStores(cfg, sessionHolder(f))
	defer closeStores(gw, idx)

	if idx == nil {
		report("reindex needs a local storage backend, not %q", cfg.Storage.Backend)
		return 1
	}
	n, err := idx.IndexFromGateway(ctx, gw)
	if err != nil {
		report("reindex: %v", err)
		return 1
	}
	fmt.Printf("  %s %d profile(s) indexed\n", clr("green", "✓"), n)
	return 0
}

func runServe(ctx context.Context, cfg *config.Config, f *flags) int {
	if cfg.Storage.Backend == config.BackendRemote {
		report("serve needs a local storage backend, not %q", config.BackendRemote)
		return 1
	}

	log.Printf("Starting cooptme backend v%s", version)
	log.Printf("Environment: %s", cfg.Server.Environment)
	log.Printf("Storage: %s", cfg.Storage.Backend)

	gw, idx := openStores(cfg, nil)
	defer closeStores(gw, idx)

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		log.Printf("WARNING: no auth.jwt_secret configured, tokens will not survive a restart")
	}
	accounts := auth.NewService(secret, cfg.Auth.TokenTTL)

	var searcher api.Searcher
	if idx != nil {
		searcher = idx
		log.Printf("Search index: %s", cfg.Search.IndexPath)
	}

	var rescanner api.Rescanner
	if r, err := newRenderer(cfg); err != nil {
		log.Printf("WARNING: rescanning disabled: %v", err)
	} else {
		s := scanner.New(scanConfig(cfg), r, gw, nil)
		defer s.Close()
		go func() {
			for range s.Events() {
			}
		}()
		rescanner = s
	}

	handler := api.NewHandler(gw, searcher, accounts, rescanner)
	router := api.SetupRouter(cfg, handler)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	log.Printf("Server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Failed to start server: %v", err)
		return 1
	}
	return 0
}

// ---------- Wiring ----------

func sessionHolder(f *flags) *auth.Holder {
	holder := auth.NewHolder()
	if f.token == "" {
		return holder
	}
	s, err := auth.SessionFromToken(f.token)
	if err != nil {
		fatal("token: %v", err)
	}
	holder.SignIn(s)
	return holder
}

// openStores opens the configured gateway and, when enabled, the search
// index that shadows it.
func openStores(cfg *config.Config, holder *auth.Holder) (storage.Gateway, *search.Index) {
	var (
		gw  storage.Gateway
		err error
	)
	sc := cfg.Storage
	switch sc.Backend {
	case config.BackendMemory:
		gw = storage.NewMemoryGateway()
	case config.BackendBolt:
		gw, err = storage.OpenBolt(sc.Path)
	case config.BackendSQLite:
		gw, err = storage.OpenSQL(storage.DriverSQLite, sc.Path)
	case config.BackendPostgres:
		gw, err = storage.OpenSQL(storage.DriverPostgres, sc.DSN)
	case config.BackendRemote:
		rc := storage.DefaultRemoteConfig(sc.RemoteURL)
		rc.RateLimit = sc.RateLimit
		rc.Retries = sc.Retries
		rc.Timeout = sc.Timeout
		var tokens storage.TokenSource
		if holder != nil {
			tokens = holder
		}
		gw = storage.NewRemoteGateway(rc, tokens)
	default:
		err = fmt.Errorf("unknown backend %q", sc.Backend)
	}
	if err != nil {
		fatal("storage: %v", err)
	}

	if !cfg.Search.Enabled || sc.Backend == config.BackendRemote {
		return gw, nil
	}
	idx, err := search.Open(cfg.Search.IndexPath)
	if err != nil {
		gw.Close()
		fatal("open index: %v", err)
	}
	return storage.NewIndexed(gw, idx), idx
}

func closeStores(gw storage.Gateway, idx *search.Index) {
	if err := gw.Close(); err != nil {
		log.Printf("[storage] close: %v", err)
	}
	if idx != nil {
		if err := idx.Close(); err != nil {
			log.Printf("[search] close: %v", err)
		}
	}
}

func newRenderer(cfg *config.Config) (plugin.Renderer, error) {
	sc := cfg.Scan
	if sc.Renderer == config.RendererBrowser {
		r, err := renderer.NewBrowserRenderer(renderer.BrowserConfig{
			Headless:    sc.Headless,
			UserAgent:   sc.UserAgent,
			PageTimeout: sc.PageTimeout,
			Bin:         sc.ChromeBin,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	r, err := renderer.NewStaticRenderer(renderer.StaticConfig{
		UserAgent:       sc.UserAgent,
		Timeout:         sc.PageTimeout,
		Parallelism:     sc.Parallelism,
		Proxy:           sc.Proxy,
		CustomHeaders:   sc.Headers,
		MaxResponseSize: sc.MaxResponseSize,
		RateLimit:       sc.RateLimit,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func scanConfig(cfg *config.Config) *scanner.Config {
	sc := scanner.DefaultConfig()
	sc.Timeout = cfg.Scan.Timeout
	sc.ExtractOnLoad = cfg.Scan.ExtractOnLoad
	sc.Parallelism = cfg.Scan.Parallelism
	return sc
}

func applyFlags(cfg *config.Config, f *flags) {
	if f.timeout > 0 {
		cfg.Scan.Timeout = f.timeout
	}
	if f.parallel > 0 {
		cfg.Scan.Parallelism = f.parallel
	}
	if f.renderer != "" {
		cfg.Scan.Renderer = strings.ToLower(f.renderer)
	}
	if f.extractOnLoad {
		cfg.Scan.ExtractOnLoad = true
	}
	if f.headful {
		cfg.Scan.Headless = false
	}
	if f.proxy != "" {
		cfg.Scan.Proxy = f.proxy
	}
	if len(f.headers) > 0 {
		cfg.Scan.Headers = append(cfg.Scan.Headers, f.headers...)
	}
	if f.rateLimit > 0 {
		cfg.Scan.RateLimit = f.rateLimit
	}
	if f.maxResponse > 0 {
		cfg.Scan.MaxResponseSize = f.maxResponse
	}
	if f.backend != "" {
		cfg.Storage.Backend = strings.ToLower(f.backend)
	}
	if f.port != "" {
		cfg.Server.Port = f.port
	}
}

// ---------- Flag parsing ----------

func parseFlags(args []string) *flags {
	f := &flags{
		limit: 20,
		token: os.Getenv("COOPTME_TOKEN"),
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		next := func() string {
			if i+1 < len(args) {
				i++
				return args[i]
			}
			fatal("flag %s requires an argument", arg)
			return ""
		}
		nextInt := func() int {
			var n int
			fmt.Sscanf(next(), "%d", &n)
			return n
		}
		nextDur := func() time.Duration {
			v := next()
			d, err := time.ParseDuration(v)
			if err != nil {
				fatal("flag %s: invalid duration %q", arg, v)
			}
			return d
		}

		switch arg {
		// Scan
		case "-t", "--timeout":
			f.timeout = nextDur()
		case "-c", "--concurrency":
			f.parallel = nextInt()
		case "-r", "--renderer":
			f.renderer = next()
		case "-x", "--extract-on-load":
			f.extractOnLoad = true
		case "--headful":
			f.headful = true
		case "-i", "--input":
			f.payloadFile = next()
		case "-px", "--proxy":
			f.proxy = next()
		case "-H", "--header":
			f.headers = append(f.headers, next())
		case "-rl", "--rate-limit":
			f.rateLimit = nextDur()
		case "-mrs", "--max-response-size":
			f.maxResponse = nextInt()

		// Storage
		case "-b", "--backend":
			f.backend = next()
		case "--owner":
			f.owner = next()
		case "--token":
			f.token = next()

		// Search / serve
		case "-l", "--limit":
			f.limit = nextInt()
		case "-p", "--port":
			f.port = next()

		// Output
		case "-o", "--output":
			f.output = next()
		case "-si", "--silent":
			f.silent = true
		case "-v", "--verbose":
			f.verbose = true
		case "-nc", "--no-color":
			f.noColor = true
			noColor = true

		case "--config":
			f.configFile = next()

		// Meta
		case "-h", "--help":
			f.showHelp = true
		case "-V", "--version":
			f.showVersion = true

		default:
			if strings.HasPrefix(arg, "-") {
				fmt.Fprintf(os.Stderr, "Unknown flag: %s (use --help for usage)\n", arg)
				os.Exit(1)
			}
			if f.command == "" {
				f.command = arg
			} else {
				f.args = append(f.args, arg)
			}
		}
	}
	return f
}

// ---------- Help / banner ----------

func printUsage() {
	printBanner()
	fmt.Print(`
USAGE:
  cooptme <command> [flags] [args]
  cooptme scan https://www.linkedin.com/in/janedoe
  cooptme scan -r browser -x -o report.txt <url> <url>
  cooptme serve -p 8080

COMMANDS:
  scan <url|payload>...              scan profile pages and store the contacts
  list                               list stored profiles, most recently updated first
  remove <url>...                    delete stored profiles
  search <query>                     full-text search over stored profiles
  reindex                            rebuild the search index from storage
  serve                              run the profile backend HTTP API
  version                            show version

SCAN:
  -t,    --timeout <duration>        time allowed per profile (default 30s)
  -c,    --concurrency <int>         number of profiles scanned at once (default 2)
  -r,    --renderer <string>         page renderer: static, browser (default "static")
  -x,    --extract-on-load           extract as soon as the page loads
         --headful                   show the browser window
  -i,    --input <file>              read a scanned QR payload (URL, text or vCard) from file, "-" for stdin
  -px,   --proxy <url>               http or socks5 proxy for the static renderer
  -H,    --header <string>           extra request header "Name: value" (repeatable)
  -rl,   --rate-limit <duration>     delay between requests to one host (default 0s)
  -mrs,  --max-response-size <int>   maximum page size in bytes (default 4194304)

STORAGE:
  -b,    --backend <string>          memory, bolt, sqlite, postgres, remote (default "bolt")
         --owner <string>            owner scope of stored profiles (default: signed-in user)
         --token <string>            backend bearer token (default $COOPTME_TOKEN)

SEARCH / SERVE:
  -l,    --limit <int>               maximum search results (default 20)
  -p,    --port <string>             HTTP port (default 8080)

OUTPUT:
  -o,    --output <string>           save a scan report to file
  -si,   --silent                    suppress all output except errors
  -v,    --verbose                   show scan progress and profile fields
  -nc,   --no-color                  disable colored output

CONFIG:
         --config <string>           path to configuration file (default ./cooptme.yaml)

META:
  -h,    --help                      show this help message
  -V,    --version                   show version

`)
}

func printBanner() {
	logo := `
   ██████╗ ██████╗  ██████╗ ██████╗ ████████╗███╗   ███╗███████╗
  ██╔════╝██╔═══██╗██╔═══██╗██╔══██╗╚══██╔══╝████╗ ████║██╔════╝
  ██║     ██║   ██║██║   ██║██████╔╝   ██║   ██╔████╔██║█████╗
  ██║     ██║   ██║██║   ██║██╔═══╝    ██║   ██║╚██╔╝██║██╔══╝
  ╚██████╗╚██████╔╝╚██████╔╝██║        ██║   ██║ ╚═╝ ██║███████╗
   ╚═════╝ ╚═════╝  ╚═════╝ ╚═╝        ╚═╝   ╚═╝     ╚═╝╚══════╝`
	fmt.Println(clr("cyan", logo))
	fmt.Printf("  %s  %s\n", clr("dim", "Profile scanner and contact sync"), clr("dim", "v"+version))
	fmt.Printf("  %s\n", clr("dim", strings.Repeat("─", 58)))
}

// ---------- Utilities ----------

var noColor bool

func clr(color, text string) string {
	if noColor {
		return text
	}
	codes := map[string]string{
		"red":    "\033[31m",
		"green":  "\033[32m",
		"yellow": "\033[33m",
		"cyan":   "\033[36m",
		"dim":    "\033[2m",
		"bold":   "\033[1m",
		"reset":  "\033[0m",
	}
	c, ok := codes[color]
	if !ok {
		return text
	}
	return c + text + codes["reset"]
}

// report prints an error without exiting, for commands that still have
// stores to close.
func report(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\n  %s %s\n\n", clr("red", "ERROR:"), fmt.Sprintf(format, args...))
}

func fatal(format string, args ...interface{}) {
	report(format, args...)
	os.Exit(1)
}

func init() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.SetOutput(os.Stdout)
}
