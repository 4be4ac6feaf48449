package authctl

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/trackauth/internal/cryptox"
	"github.com/google/uuid"
)

func (a *App) keygen(args []string) error {
	fs := a.flagSet("keygen")
	dir := fs.String("out", ".", "output directory")
	id := fs.String("id", "", "key id (default: random uuid)")
	bits := fs.Int("bits", cryptox.MinRSABits, "RSA modulus size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		*id = uuid.NewString()
	}

	key, err := cryptox.GenerateRSAKey(*bits)
	if err != nil {
		return err
	}
	privPEM, err := cryptox.EncodePrivateKeyPEM(key)
	if err != nil {
		return err
	}
	pubPEM, err := cryptox.EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return err
	}

	privPath := filepath.Join(*dir, *id+".pem")
	pubPath := filepath.Join(*dir, *id+".pub.pem")
	if err := writeNew(privPath, privPEM, 0o600); err != nil {
		return err
	}
	if err := writeNew(pubPath, pubPEM, 0o644); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "keys:\n  pairs:\n    - id: %s\n      public_key: %s\n      private_key: %s\n", *id, pubPath, privPath)
	return nil
}

// writeNew refuses to overwrite existing key material.
func writeNew(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
