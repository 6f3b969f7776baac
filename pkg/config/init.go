package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const configHeader = `DittoHTTP Configuration File
Every key can be overridden with an environment variable:
DITTOHTTP_<SECTION>_<KEY>, e.g. DITTOHTTP_ADAPTERS_HTTP_PORT=9000`

// InitConfig writes a commented default configuration to the default
// location and returns its path.
//
// Returns an error if the file already exists and force is false.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a commented default configuration to path,
// creating parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// entry is one commented key/value pair of the generated file.
type entry struct {
	key     string
	value   any
	comment string
}

// generateYAMLWithComments renders cfg as YAML with a comment above every key.
func generateYAMLWithComments(cfg *Config) (string, error) {
	http := cfg.Adapters.HTTP

	root := mapping()

	if err := addSection(root, "logging", "Logging configuration", []entry{
		{"level", cfg.Logging.Level, "Minimum level: DEBUG, INFO, WARN, ERROR"},
		{"format", cfg.Logging.Format, "Output format: text or json"},
		{"output", cfg.Logging.Output, "stdout, stderr, or a file path"},
	}); err != nil {
		return "", err
	}

	server := mapping()
	if err := addEntries(server, []entry{
		{"shutdown_timeout", duration(cfg.Server.ShutdownTimeout), "Maximum time to wait for adapters to stop"},
	}); err != nil {
		return "", err
	}
	if err := addSection(server, "metrics", "Prometheus endpoint (/metrics and /healthz)", []entry{
		{"enabled", cfg.Server.Metrics.Enabled, "Start the metrics server"},
		{"port", cfg.Server.Metrics.Port, "Metrics server port"},
	}); err != nil {
		return "", err
	}
	appendPair(root, "server", "Server-wide settings", server)

	adapters := mapping()
	if err := addSection(adapters, "http", "Static-file HTTP/1.1 server", []entry{
		{"enabled", http.Enabled, "Serve HTTP"},
		{"address", http.Address, "IPv4 address to bind; empty binds every interface"},
		{"port", http.Port, "TCP port"},
		{"document_root", http.DocumentRoot, "Directory request targets are resolved under"},
		{"default_document", http.DefaultDocument, `Document served for "/"`},
		{"register_document", http.RegisterDocument, `Document served when the last path element is "0"`},
		{"login_document", http.LoginDocument, `Document served when the last path element is "1"`},
		{"workers", http.Workers, "Goroutines parsing requests and building responses"},
		{"max_queue", http.MaxQueue, "Connections waiting for a worker before new ones are dropped"},
		{"max_connections", http.MaxConnections, `Open connections before accepts get "Internal server busy"`},
		{"read_buffer_size", http.ReadBufferSize, "Largest request, headers and body included (bytes)"},
		{"write_buffer_size", http.WriteBufferSize, "Largest response status line plus headers (bytes)"},
		{"max_events", http.MaxEvents, "epoll_wait batch size"},
		{"backlog", http.Backlog, "listen(2) backlog"},
		{"accept_rate", http.AcceptRate, "Accepted connections per second; 0 is unlimited"},
		{"accept_burst", http.AcceptBurst, "Accepts allowed at once above accept_rate; 0 uses accept_rate"},
		{"sanitize_paths", http.SanitizePaths, `Clean targets so ".." cannot leave document_root`},
		{"shutdown_timeout", duration(http.ShutdownTimeout), "Wait for busy workers on shutdown"},
		{"metrics_log_interval", duration(http.MetricsLogInterval), "Periodic metrics log line; 0s disables"},
	}); err != nil {
		return "", err
	}
	appendPair(root, "adapters", "Protocol adapters", adapters)

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: configHeader,
		Content:     []*yaml.Node{root},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.String(), nil
}

func mapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode}
}

func appendPair(m *yaml.Node, key, comment string, value *yaml.Node) {
	k := &yaml.Node{Kind: yaml.ScalarNode, Value: key, HeadComment: comment}
	m.Content = append(m.Content, k, value)
}

func addSection(parent *yaml.Node, key, comment string, entries []entry) error {
	section := mapping()
	if err := addEntries(section, entries); err != nil {
		return err
	}
	appendPair(parent, key, comment, section)
	return nil
}

func addEntries(m *yaml.Node, entries []entry) error {
	for _, e := range entries {
		var v yaml.Node
		if err := v.Encode(e.value); err != nil {
			return fmt.Errorf("failed to encode %s: %w", e.key, err)
		}
		appendPair(m, e.key, e.comment, &v)
	}
	return nil
}

// duration renders d the way viper parses it back ("30s", "5m0s").
func duration(d time.Duration) string {
	return d.String()
}
