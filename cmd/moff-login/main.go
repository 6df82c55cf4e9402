package main

import (
	"context"
	"io/ioutil"
	"moff.io/moff-login/internal/config"
	"moff.io/moff-login/internal/http"
	"moff.io/moff-login/internal/provider/ethrpc"
	"moff.io/moff-login/internal/session"
	"moff.io/moff-login/internal/starter"
	"moff.io/moff-login/internal/view"
	"moff.io/moff-login/internal/walletconnect"
	"moff.io/moff-login/pkg/errors"
	"moff.io/moff-login/pkg/log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	log.Infof("Starting app")
	startApp()
}

func startApp() {
	defer func() {
		if i := recover(); i != nil {
			log.Fatal(errors.ErrorfAndReport("%v", i))
		}
	}()
	config.Read()
	conf := config.Global
	log.SetLevel(conf.LogLevel)
	if err := errors.NewSentryReporter(conf.Alarm.SentryDSN); err != nil {
		log.Error(err)
	}
	errors.NewLarkReporter(conf.Alarm.LarkWebhook, conf.Alarm.Silent)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newGateway(ctx, &conf.Gateway)
	manager := session.NewManager(app.gateway)
	dispose := manager.Initialize(ctx)
	defer dispose()
	defer manager.Watch(func(s session.Session) {
		log.Infof("page:\n%v", view.Text(view.Build(s)))
	})()

	server := http.NewServer(manager)
	starter.Start(ctx, append(app.startables, server)...)
	if conf.AutoConnect {
		go manager.Connect(ctx)
	}

	<-ctx.Done()
	log.Infof("Stopping app")
	starter.Stop(append(app.stopables, server)...)
}

type gatewaySetup struct {
	gateway    session.Gateway
	startables []starter.Startable
	stopables  []starter.Stopable
}

// newGateway builds the configured wallet provider. A provider that cannot
// be reached is left absent, so connect reports the missing wallet.
func newGateway(ctx context.Context, conf *config.Gateway) gatewaySetup {
	switch conf.Kind {
	case config.GatewayRPC:
		g, err := ethrpc.Dial(ctx, conf.RPCURL,
			ethrpc.WithPollInterval(conf.PollInterval),
			ethrpc.WithRateLimit(conf.RateLimit))
		if err != nil {
			log.Error(err)
			return gatewaySetup{}
		}
		return gatewaySetup{
			gateway:    g,
			startables: []starter.Startable{g},
			stopables:  []starter.Stopable{g},
		}
	case config.GatewayWalletConnect:
		g := walletconnect.NewGateway(walletconnect.Options{
			BridgeURL:   conf.BridgeURL,
			ReadTimeout: conf.ReadTimeout,
			Name:        conf.PeerName,
			Display:     displayQRCode(conf.QRCodePath),
		})
		return gatewaySetup{
			gateway:   g,
			stopables: []starter.Stopable{g},
		}
	default:
		log.Warnf("no wallet provider configured")
		return gatewaySetup{}
	}
}

func displayQRCode(path string) walletconnect.DisplayQRCodeFn {
	return func(uri string, png []byte) error {
		if err := ioutil.WriteFile(path, png, 0644); err != nil {
			return errors.Wrap(err, "write wallet connect qr code")
		}
		log.Infof("Scan %v with your wallet, or paste %v", path, uri)
		return nil
	}
}
