// Package mqttconn builds paho client options shared by the API service
// publisher and the ingestor.
package mqttconn

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	config "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Config"
)

// ClientOptions returns broker options with credentials, TLS and
// reconnect behavior applied. Callers attach their own handlers.
func ClientOptions(cfg config.MQTTConfig) (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(cfg.ClientID).
		SetOrderMatters(false).
		SetKeepAlive(orDefault(cfg.KeepAlive, 30*time.Second)).
		SetPingTimeout(orDefault(cfg.PingTimeout, 10*time.Second)).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(false)

	if cfg.BrokerUser != "" {
		opts.SetUsername(cfg.BrokerUser)
		opts.SetPassword(cfg.BrokerPass)
	}

	if cfg.UseTLS {
		tlsCfg, err := TLSConfig(cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// TLSConfig pins TLS 1.2 and, when caFile is set, trusts only that CA
func TLSConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file")
	}
	cfg.RootCAs = cp
	return cfg, nil
}

// SharedTopic prefixes topic with a $share group when one is configured
func SharedTopic(group, topic string) string {
	if group == "" {
		return topic
	}
	return fmt.Sprintf("$share/%s/%s", group, topic)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
