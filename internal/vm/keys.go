package vm

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// KeyManager generates and locates the ed25519 key pair used for guest
// command transport. Keys live under {dataDir}/ssh/.
type KeyManager struct {
	dataDir string
}

func NewKeyManager(dataDir string) *KeyManager {
	return &KeyManager{dataDir: dataDir}
}

func (m *KeyManager) sshDir() string {
	return filepath.Join(m.dataDir, "ssh")
}

func (m *KeyManager) privateKeyPath() string {
	return filepath.Join(m.sshDir(), "agentvm")
}

func (m *KeyManager) publicKeyPath() string {
	return filepath.Join(m.sshDir(), "agentvm.pub")
}

// EnsureKeyPair generates an ed25519 key pair if one does not already
// exist, and returns the private and public key paths.
func (m *KeyManager) EnsureKeyPair() (privateKeyPath, publicKeyPath string, err error) {
	privPath := m.privateKeyPath()
	pubPath := m.publicKeyPath()
	if m.KeyPairExists() {
		return privPath, pubPath, nil
	}

	if err := os.MkdirAll(m.sshDir(), 0700); err != nil {
		return "", "", fmt.Errorf("create ssh directory: %w", err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ed25519 key: %w", err)
	}

	if err := writePrivateKey(privPath, privKey); err != nil {
		return "", "", fmt.Errorf("write private key: %w", err)
	}
	if err := writePublicKey(pubPath, pubKey); err != nil {
		os.Remove(privPath)
		return "", "", fmt.Errorf("write public key: %w", err)
	}
	return privPath, pubPath, nil
}

// KeyPairExists reports whether both halves of the key pair are on disk.
func (m *KeyManager) KeyPairExists() bool {
	_, privErr := os.Stat(m.privateKeyPath())
	_, pubErr := os.Stat(m.publicKeyPath())
	return privErr == nil && pubErr == nil
}

// PrivateKeyPath returns the private key path, or an error if the pair
// has not been generated.
func (m *KeyManager) PrivateKeyPath() (string, error) {
	path := m.privateKeyPath()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("ssh key not generated; run 'agentvm keygen' first")
		}
		return "", err
	}
	return path, nil
}

// PublicKeyContent returns the public key line for authorized_keys.
func (m *KeyManager) PublicKeyContent() (string, error) {
	content, err := os.ReadFile(m.publicKeyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("ssh key not generated; run 'agentvm keygen' first")
		}
		return "", err
	}
	return string(content), nil
}

func writePrivateKey(path string, privKey ed25519.PrivateKey) error {
	pemBlock, err := ssh.MarshalPrivateKey(privKey, "agentvm key")
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	return os.WriteFile(path, pem.EncodeToMemory(pemBlock), 0600)
}

func writePublicKey(path string, pubKey ed25519.PublicKey) error {
	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return fmt.Errorf("convert public key: %w", err)
	}
	authorizedKey := ssh.MarshalAuthorizedKey(sshPubKey)
	keyLine := fmt.Sprintf("%s agentvm@agentvm\n", string(authorizedKey[:len(authorizedKey)-1]))
	return os.WriteFile(path, []byte(keyLine), 0644)
}
