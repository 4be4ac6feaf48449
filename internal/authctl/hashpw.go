package authctl

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/trackauth/internal/server/passwords"
	"golang.org/x/crypto/bcrypt"
)

func (a *App) hashPassword(args []string) error {
	fs := a.flagSet("hash-password")
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pw, err := GetPassword(a.in, a.errOut)
	if err != nil {
		return err
	}
	defer wipe(pw)
	if len(pw) == 0 {
		return errors.New("empty password")
	}

	hash, err := passwords.NewBcrypt(*cost).Hash(string(pw))
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, hash)
	return nil
}
