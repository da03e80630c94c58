package ldap

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// kerberosBind binds conn with GSSAPI using the administrative principal.
func kerberosBind(conn Conn, cfg *ConnectionConfig) error {
	client, err := newGSSAPIClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = client.DeleteSecContext()
	}()

	spn, err := servicePrincipal(cfg)
	if err != nil {
		return err
	}

	if err := conn.GSSAPIBind(client, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}
	return nil
}

// newGSSAPIClient creates a GSSAPI client, preferring a keytab over a password.
func newGSSAPIClient(cfg *ConnectionConfig) (*gssapi.Client, error) {
	krb5conf := cfg.KerberosConfig
	if krb5conf == "" {
		krb5conf = defaultKrb5Conf
	}
	if !fileExists(krb5conf) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s", krb5conf)
	}

	principal, realm := splitPrincipal(cfg.BindDN, cfg.KerberosRealm)
	if realm == "" {
		return nil, fmt.Errorf("kerberos realm is required")
	}

	keytab := cfg.KerberosKeytab
	if keytab == "" {
		keytab = defaultKeytabPath()
	}
	if fileExists(keytab) {
		return gssapi.NewClientWithKeytab(principal, realm, keytab, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if cfg.BindPassword != "" {
		return gssapi.NewClientWithPassword(principal, realm, cfg.BindPassword, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	return nil, fmt.Errorf("no keytab at %s and no password configured for %s", keytab, principal)
}

// servicePrincipal returns the configured SPN or ldap/<host>.
func servicePrincipal(cfg *ConnectionConfig) (string, error) {
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}
	if cfg.Host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}
	return "ldap/" + cfg.Host, nil
}

// splitPrincipal separates user@REALM, falling back to the configured realm.
func splitPrincipal(principal, realm string) (string, string) {
	if user, r, ok := strings.Cut(principal, "@"); ok {
		if realm == "" {
			realm = r
		}
		return user, realm
	}
	return principal, realm
}

func defaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

var _ ldap.GSSAPIClient = (*gssapi.Client)(nil)
