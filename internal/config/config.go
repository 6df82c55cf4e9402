package config

import (
	"flag"
	"fmt"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
	"io/ioutil"
	"os"
	"time"
)

// Gateway kinds.
const (
	GatewayRPC           = "rpc"
	GatewayWalletConnect = "walletconnect"
	GatewayNone          = "none"
)

// Configuration struct
type Configuration struct {
	LogLevel    int     `yaml:"log_level"`
	AutoConnect bool    `yaml:"auto_connect"`
	Gateway     Gateway `yaml:"gateway"`
	HTTP        HTTP    `yaml:"http"`
	Alarm       Alarm   `yaml:"alarm"`
}

// Gateway selects the wallet provider and its transport settings.
type Gateway struct {
	Kind string `yaml:"kind"`

	// rpc
	RPCURL       string        `yaml:"rpc_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RateLimit    int           `yaml:"rate_limit"`

	// walletconnect
	BridgeURL   string        `yaml:"bridge_url"`
	QRCodePath  string        `yaml:"qr_code_path"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	PeerName    string        `yaml:"peer_name"`
}

type HTTP struct {
	Listen   string `yaml:"listen"`
	// MaxFeeds caps concurrent session websocket feeds.
	MaxFeeds int    `yaml:"max_feeds"`
}

// Alarm configures error reporters, both optional.
type Alarm struct {
	SentryDSN   string        `yaml:"sentry_dsn"`
	LarkWebhook string        `yaml:"lark_webhook"`
	Silent      time.Duration `yaml:"silent"`
}

func (c *Configuration) setDefaults() {
	if c.Gateway.Kind == "" {
		c.Gateway.Kind = GatewayRPC
	}
	if c.Gateway.RPCURL == "" {
		c.Gateway.RPCURL = "http://127.0.0.1:8545"
	}
	if c.Gateway.PollInterval <= 0 {
		c.Gateway.PollInterval = 2 * time.Second
	}
	if c.Gateway.QRCodePath == "" {
		c.Gateway.QRCodePath = "wallet_connect_qr.png"
	}
	if c.Gateway.ReadTimeout <= 0 {
		c.Gateway.ReadTimeout = 5 * time.Minute
	}
	if c.Gateway.PeerName == "" {
		c.Gateway.PeerName = "moff login"
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.HTTP.MaxFeeds <= 0 {
		c.HTTP.MaxFeeds = 64
	}
	if c.Alarm.Silent <= 0 {
		c.Alarm.Silent = time.Minute
	}
}

func (c *Configuration) validate() error {
	switch c.Gateway.Kind {
	case GatewayRPC, GatewayWalletConnect, GatewayNone:
	default:
		return fmt.Errorf("unknown gateway kind %q", c.Gateway.Kind)
	}
	if c.LogLevel < 0 || c.LogLevel > 3 {
		return fmt.Errorf("log_level %d out of range 0..3", c.LogLevel)
	}
	return nil
}

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Configuration, error) {
	dat, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file %s does not exist", path)
		}
		return nil, err
	}
	t := Configuration{}
	if err := yaml.Unmarshal(dat, &t); err != nil {
		return nil, fmt.Errorf("fail to decode config error: %v", err)
	}
	t.setDefaults()
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

var Global *Configuration

// Read reads configuration information from yml.
func Read() {
	configFilePath := flag.String("config-path", "internal/config/config.yml", "The path to the configuration file")
	flag.Parse()
	logrus.Infof("Loading configuration file from %s", *configFilePath)
	globalConfig, err := Load(*configFilePath)
	if err != nil {
		logrus.Fatal(err)
	}
	Global = globalConfig
}
