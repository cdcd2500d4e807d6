package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/plaenen/liststate/pkg/config"
	"github.com/plaenen/liststate/pkg/credentials"
	"github.com/plaenen/liststate/pkg/validators"
)

type sealOptions struct {
	keeperURL string
	out       string
	credType  string
	token     string
	user      string
	password  string
	jwt       string
	seed      string
	expiresIn time.Duration
	allowWeak bool
}

func newSealCmd() *cobra.Command {
	opts := &sealOptions{}

	cmd := &cobra.Command{
		Use:   "seal-credentials",
		Short: "Encrypt NATS credentials into a sealed file",
		Example: `  liststate seal-credentials --keeper base64key://... --out nats.sealed --type token --token s3cret
  liststate seal-credentials --keeper awskms://alias/liststate --out nats.sealed \
      --type user_password --user collector --password '...'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			creds, err := opts.credentials()
			if err != nil {
				return err
			}

			b := validators.NewValidationBuilder()
			b.Add(validators.ValidateURL(opts.keeperURL, "keeper"))
			b.Add(validators.ValidateStringEmpty(opts.out, "out"))
			if creds.Type == credentials.CredentialTypeUserPassword && !opts.allowWeak {
				b.Add(validators.ValidatePassword("password", creds.Password))
			}
			if err := b.Err(); err != nil {
				return err
			}

			if err := credentials.Seal(cmd.Context(), opts.keeperURL, opts.out, creds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sealed %s credentials to %s\n", creds.Type, opts.out)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.keeperURL, "keeper", os.Getenv(config.Prefix+"CREDENTIALS_KEEPER_URL"), "gocloud secrets keeper URL")
	f.StringVar(&opts.out, "out", os.Getenv(config.Prefix+"CREDENTIALS_PATH"), "sealed file to write")
	f.StringVar(&opts.credType, "type", string(credentials.CredentialTypeToken), "credential type (token, user_password, jwt)")
	f.StringVar(&opts.token, "token", "", "auth token")
	f.StringVar(&opts.user, "user", "", "user name")
	f.StringVar(&opts.password, "password", "", "password")
	f.StringVar(&opts.jwt, "jwt", "", "user JWT")
	f.StringVar(&opts.seed, "seed", "", "nkey seed for the JWT")
	f.DurationVar(&opts.expiresIn, "expires-in", 0, "mark the credentials expired after this long")
	f.BoolVar(&opts.allowWeak, "allow-weak", false, "accept a low-entropy password")

	return cmd
}

func (o *sealOptions) credentials() (*credentials.Credentials, error) {
	creds := &credentials.Credentials{Type: credentials.CredentialType(o.credType)}

	switch creds.Type {
	case credentials.CredentialTypeToken:
		creds.Token = o.token
	case credentials.CredentialTypeUserPassword:
		creds.User = o.user
		creds.Password = o.password
	case credentials.CredentialTypeJWT:
		creds.JWTToken = o.jwt
		creds.Seed = o.seed
	default:
		return nil, fmt.Errorf("unknown credential type %q", o.credType)
	}

	if o.expiresIn < 0 {
		return nil, errors.New("expires-in must not be negative")
	}
	if o.expiresIn > 0 {
		expires := time.Now().UTC().Add(o.expiresIn)
		creds.ExpiresAt = &expires
	}
	return creds, nil
}
