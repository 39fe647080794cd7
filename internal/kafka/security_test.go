package kafka

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

func TestConfigureSecurity(t *testing.T) {
	tests := []struct {
		name          string
		sc            SecurityConfig
		wantErr       bool
		wantSASL      bool
		wantTLS       bool
		wantMechanism sarama.SASLMechanism
	}{
		{name: "empty is plaintext", sc: SecurityConfig{}},
		{name: "plaintext", sc: SecurityConfig{Protocol: "PLAINTEXT"}},
		{name: "ssl", sc: SecurityConfig{Protocol: "SSL"}, wantTLS: true},
		{
			name:          "sasl plaintext plain",
			sc:            SecurityConfig{Protocol: "SASL_PLAINTEXT", Mechanism: "PLAIN", Username: "u", Password: "p"},
			wantSASL:      true,
			wantMechanism: sarama.SASLTypePlaintext,
		},
		{
			name:          "sasl ssl scram 256",
			sc:            SecurityConfig{Protocol: "SASL_SSL", Mechanism: "SCRAM-SHA-256", Username: "u", Password: "p"},
			wantSASL:      true,
			wantTLS:       true,
			wantMechanism: sarama.SASLTypeSCRAMSHA256,
		},
		{
			name:          "lower case scram 512",
			sc:            SecurityConfig{Protocol: "sasl_ssl", Mechanism: "scram-sha-512", Username: "u", Password: "p"},
			wantSASL:      true,
			wantTLS:       true,
			wantMechanism: sarama.SASLTypeSCRAMSHA512,
		},
		{
			name:          "msk iam",
			sc:            SecurityConfig{Protocol: "SASL_SSL", Mechanism: "AWS_MSK_IAM", MSKRegion: "eu-west-1"},
			wantSASL:      true,
			wantTLS:       true,
			wantMechanism: sarama.SASLTypeOAuth,
		},
		{name: "msk iam without region", sc: SecurityConfig{Protocol: "SASL_SSL", Mechanism: "AWS_MSK_IAM"}, wantErr: true},
		{name: "unknown mechanism", sc: SecurityConfig{Protocol: "SASL_SSL", Mechanism: "GSSAPI"}, wantErr: true},
		{name: "unknown protocol", sc: SecurityConfig{Protocol: "QUIC"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := sarama.NewConfig()
			err := configureSecurity(config, tt.sc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("configureSecurity() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			if config.Net.SASL.Enable != tt.wantSASL {
				t.Errorf("SASL.Enable = %v, want %v", config.Net.SASL.Enable, tt.wantSASL)
			}
			if config.Net.TLS.Enable != tt.wantTLS {
				t.Errorf("TLS.Enable = %v, want %v", config.Net.TLS.Enable, tt.wantTLS)
			}
			if tt.wantSASL && config.Net.SASL.Mechanism != tt.wantMechanism {
				t.Errorf("SASL.Mechanism = %v, want %v", config.Net.SASL.Mechanism, tt.wantMechanism)
			}
			if tt.wantTLS && config.Net.TLS.Config.InsecureSkipVerify {
				t.Error("InsecureSkipVerify should default to false")
			}
		})
	}
}

func TestConfigureSecurity_MSKProviderRegion(t *testing.T) {
	config := sarama.NewConfig()
	err := configureSecurity(config, SecurityConfig{Protocol: "SASL_SSL", Mechanism: "AWS_MSK_IAM", MSKRegion: "ap-south-1"})
	if err != nil {
		t.Fatalf("configureSecurity() error = %v", err)
	}

	provider, ok := config.Net.SASL.TokenProvider.(*MSKAccessTokenProvider)
	if !ok {
		t.Fatalf("TokenProvider = %T, want *MSKAccessTokenProvider", config.Net.SASL.TokenProvider)
	}
	if provider.region != "ap-south-1" {
		t.Errorf("region = %q, want ap-south-1", provider.region)
	}
}

func TestConfigureSecurity_SCRAMGenerator(t *testing.T) {
	config := sarama.NewConfig()
	err := configureSecurity(config, SecurityConfig{Protocol: "SASL_PLAINTEXT", Mechanism: "SCRAM-SHA-512", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("configureSecurity() error = %v", err)
	}
	if config.Net.SASL.SCRAMClientGeneratorFunc == nil {
		t.Fatal("SCRAMClientGeneratorFunc not set")
	}
	if _, ok := config.Net.SASL.SCRAMClientGeneratorFunc().(*XDGSCRAMClient); !ok {
		t.Error("generator should return *XDGSCRAMClient")
	}
}

func TestConfigureTLS(t *testing.T) {
	dir := t.TempDir()

	t.Run("insecure skip verify", func(t *testing.T) {
		config := sarama.NewConfig()
		if err := configureTLS(config, SecurityConfig{TLSInsecureSkipVerify: true}); err != nil {
			t.Fatalf("configureTLS() error = %v", err)
		}
		if !config.Net.TLS.Config.InsecureSkipVerify {
			t.Error("InsecureSkipVerify = false, want true")
		}
	})

	t.Run("missing ca file", func(t *testing.T) {
		config := sarama.NewConfig()
		if err := configureTLS(config, SecurityConfig{TLSCAFile: filepath.Join(dir, "missing.pem")}); err == nil {
			t.Error("expected error for missing CA file")
		}
	})

	t.Run("ca file without certificates", func(t *testing.T) {
		path := filepath.Join(dir, "empty.pem")
		if err := os.WriteFile(path, []byte("not a certificate"), 0o600); err != nil {
			t.Fatal(err)
		}
		config := sarama.NewConfig()
		if err := configureTLS(config, SecurityConfig{TLSCAFile: path}); err == nil {
			t.Error("expected error for CA file without certificates")
		}
	})
}

func TestXDGSCRAMClient_Conversation(t *testing.T) {
	for name, gen := range map[string]scram.HashGeneratorFcn{"sha256": SHA256, "sha512": SHA512} {
		t.Run(name, func(t *testing.T) {
			seed, err := gen.NewClient("archiver", "pencil", "")
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			stored := seed.GetStoredCredentials(scram.KeyFactors{Salt: "kafcsvstore", Iters: 4096})

			server, err := gen.NewServer(func(user string) (scram.StoredCredentials, error) {
				return stored, nil
			})
			if err != nil {
				t.Fatalf("NewServer() error = %v", err)
			}
			serverConv := server.NewConversation()

			client := &XDGSCRAMClient{HashGeneratorFcn: gen}
			if err := client.Begin("archiver", "pencil", ""); err != nil {
				t.Fatalf("Begin() error = %v", err)
			}

			clientFirst, err := client.Step("")
			if err != nil {
				t.Fatalf("client first step: %v", err)
			}
			serverFirst, err := serverConv.Step(clientFirst)
			if err != nil {
				t.Fatalf("server first step: %v", err)
			}
			clientFinal, err := client.Step(serverFirst)
			if err != nil {
				t.Fatalf("client final step: %v", err)
			}
			serverFinal, err := serverConv.Step(clientFinal)
			if err != nil {
				t.Fatalf("server final step: %v", err)
			}
			if _, err := client.Step(serverFinal); err != nil {
				t.Fatalf("client verification: %v", err)
			}

			if !client.Done() {
				t.Error("client conversation should be done")
			}
			if !serverConv.Valid() {
				t.Error("server should have authenticated the client")
			}
		})
	}
}

func TestXDGSCRAMClient_WrongPassword(t *testing.T) {
	seed, err := SHA256.NewClient("archiver", "pencil", "")
	if err != nil {
		t.Fatal(err)
	}
	stored := seed.GetStoredCredentials(scram.KeyFactors{Salt: "kafcsvstore", Iters: 4096})
	server, err := SHA256.NewServer(func(string) (scram.StoredCredentials, error) { return stored, nil })
	if err != nil {
		t.Fatal(err)
	}
	serverConv := server.NewConversation()

	client := &XDGSCRAMClient{HashGeneratorFcn: SHA256}
	if err := client.Begin("archiver", "crayon", ""); err != nil {
		t.Fatal(err)
	}

	clientFirst, _ := client.Step("")
	serverFirst, _ := serverConv.Step(clientFirst)
	clientFinal, _ := client.Step(serverFirst)
	if _, err := serverConv.Step(clientFinal); err == nil {
		t.Error("server should reject the wrong password")
	}
	if serverConv.Valid() {
		t.Error("conversation should not be valid")
	}
}
