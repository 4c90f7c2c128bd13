package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"deltaneutral/internal/models"
	"deltaneutral/pkg/crypto"
	"deltaneutral/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Форматы файла конфигурации
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// FileStore хранит список аккаунтов в одном файле {"accounts": [...]}.
// Формат определяется расширением: .yaml/.yml - YAML, иначе JSON.
type FileStore struct {
	path   string
	format string
	cipher *crypto.Cipher
	log    *utils.Logger

	mu sync.Mutex
}

// FileStoreOption - опция FileStore
type FileStoreOption func(*FileStore)

// WithCipher включает шифрование секретных параметров ног
func WithCipher(c *crypto.Cipher) FileStoreOption {
	return func(s *FileStore) { s.cipher = c }
}

// WithLogger задаёт логгер
func WithLogger(l *utils.Logger) FileStoreOption {
	return func(s *FileStore) { s.log = l }
}

// NewFileStore создаёт файловое хранилище
func NewFileStore(path string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		path:   path,
		format: formatForPath(path),
		log:    utils.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("file_store")
	return s
}

func formatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Path возвращает путь к файлу
func (s *FileStore) Path() string {
	return s.path
}

// Load читает список аккаунтов. Отсутствующий файл - пустой список.
// Битый файл - пустой список и предупреждение в логе; сам файл
// переименовывается в <path>.corrupt, чтобы следующий Save его не затёр.
func (s *FileStore) Load(ctx context.Context) ([]models.AccountConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Info("accounts config not found, starting empty", utils.String("path", s.path))
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	var doc models.AccountsDocument
	if err := s.decode(data, &doc); err != nil {
		loadErr := &ConfigLoadError{Path: s.path, Err: err}
		s.log.Warn("accounts config is malformed, starting empty", utils.Err(loadErr))
		if rerr := os.Rename(s.path, s.path+".corrupt"); rerr != nil {
			s.log.Warn("failed to back up malformed config", utils.Err(rerr))
		}
		return nil, nil
	}

	accounts, err := openAccounts(s.cipher, doc.Accounts)
	if err != nil {
		return nil, fmt.Errorf("decrypt accounts: %w", err)
	}

	s.log.Debug("accounts config loaded", utils.String("path", s.path), utils.Int("accounts", len(accounts)))
	return accounts, nil
}

// Save записывает полный список атомарно: временный файл в той же директории, затем rename
func (s *FileStore) Save(ctx context.Context, accounts []models.AccountConfig) error {
	sealed, err := sealAccounts(s.cipher, accounts)
	if err != nil {
		return fmt.Errorf("encrypt accounts: %w", err)
	}
	if sealed == nil {
		sealed = []models.AccountConfig{}
	}

	data, err := s.encode(models.AccountsDocument{Accounts: sealed})
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}

	s.log.Debug("accounts config saved", utils.String("path", s.path), utils.Int("accounts", len(accounts)))
	return nil
}

func (s *FileStore) decode(data []byte, doc *models.AccountsDocument) error {
	if s.format == FormatYAML {
		return yaml.Unmarshal(data, doc)
	}
	return json.Unmarshal(data, doc)
}

func (s *FileStore) encode(doc models.AccountsDocument) ([]byte, error) {
	if s.format == FormatYAML {
		return yaml.Marshal(doc)
	}
	return json.MarshalIndent(doc, "", "  ")
}
