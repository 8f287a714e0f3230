// cmd/seeder/main.go
package main

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strconv"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/db"
	"github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/secrets"
	"github.com/unclebandit/outreach-engine/migrations"
)

//go:embed seed/*.sql
var seedFS embed.FS

// seed runs every seed/*.sql file in name order and returns the files run.
func seed(ctx context.Context, conn *sql.DB, fsys fs.FS, log *zap.Logger) ([]string, error) {
	files, err := fs.Glob(fsys, "seed/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			return nil, fmt.Errorf("failed to execute %s: %w", file, err)
		}
		log.Info("seeded", zap.String("file", file))
	}
	return files, nil
}

type encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// mailboxSeed gives a seeded client a working outbound mailbox.
type mailboxSeed struct {
	ClientID string
	Host     string
	Port     int
	Username string
	Password string
	Security string
}

func mailboxFromEnv(v *viper.Viper) (mailboxSeed, bool) {
	m := mailboxSeed{
		ClientID: v.GetString("SEED_MAILBOX_CLIENT"),
		Host:     v.GetString("SEED_SMTP_HOST"),
		Username: v.GetString("SEED_SMTP_USERNAME"),
		Password: v.GetString("SEED_SMTP_PASSWORD"),
		Security: v.GetString("SEED_SMTP_SECURITY"),
	}
	m.Port, _ = strconv.Atoi(v.GetString("SEED_SMTP_PORT"))
	if m.ClientID == "" || m.Host == "" || m.Username == "" || m.Password == "" {
		return m, false
	}
	if m.Security == "" {
		m.Security = "ssl"
	}
	if m.Port == 0 {
		m.Port = 465
	}
	return m, true
}

func attachMailbox(ctx context.Context, clients repository.ClientRepositoryInterface, enc encrypter, m mailboxSeed) error {
	c, err := clients.GetByID(ctx, m.ClientID)
	if err != nil {
		return err
	}
	sealed, err := enc.Encrypt(m.Password)
	if err != nil {
		return fmt.Errorf("encrypting mailbox password: %w", err)
	}
	c.Mail = &model.MailCredentials{
		Host:              m.Host,
		Port:              m.Port,
		Username:          m.Username,
		PasswordEncrypted: sealed,
		Security:          m.Security,
		FromName:          c.FounderName,
		FromEmail:         m.Username,
	}
	return clients.Save(ctx, c)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	zl, err := logger.New(cfg.LogJSON, cfg.LogDebug)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer zl.Sync()

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL, zl)
	if err != nil {
		zl.Fatal("connecting", zap.Error(err))
	}
	defer conn.Close()

	if err := db.RunMigrations(migrations.FS, cfg.DatabaseURL, zl); err != nil {
		zl.Fatal("migrating", zap.Error(err))
	}
	if _, err := seed(ctx, conn, seedFS, zl); err != nil {
		zl.Fatal("seeding", zap.Error(err))
	}

	v := viper.New()
	v.AutomaticEnv()
	if m, ok := mailboxFromEnv(v); ok {
		cipher, err := secrets.LoadCipher(secrets.Source{Value: cfg.CredentialsKey, File: cfg.CredentialsKeyFile})
		if err != nil {
			zl.Fatal("loading credentials key", zap.Error(err))
		}
		if err := attachMailbox(ctx, &repository.ClientRepository{DB: conn}, cipher, m); err != nil {
			zl.Fatal("attaching mailbox", zap.Error(err))
		}
		zl.Info("mailbox attached", zap.String("client_id", m.ClientID), logger.Email("username", m.Username))
	}

	zl.Info("database seeding completed successfully")
}
