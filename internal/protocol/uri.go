package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
)

// Standard listener ports on provisioned hosts.
const (
	TLSPort = 443
	WSPort  = 80
	SSHPort = 22
)

// BuildURIs renders the client import links for one xray account, TLS first.
func BuildURIs(protocol, host, clientID, username string) []string {
	switch protocol {
	case models.ProtocolVmess:
		return []string{
			vmessURI(host, clientID, username, TLSPort, true),
			vmessURI(host, clientID, username, WSPort, false),
		}
	case models.ProtocolVless:
		return []string{
			xrayURI("vless", host, clientID, username, TLSPort, true),
			xrayURI("vless", host, clientID, username, WSPort, false),
		}
	case models.ProtocolTrojan:
		return []string{
			xrayURI("trojan", host, clientID, username, TLSPort, true),
			xrayURI("trojan", host, clientID, username, WSPort, false),
		}
	}
	return nil
}

// SSHURI renders the password-tunnel link embedded in detail blocks.
func SSHURI(host, username, password string) string {
	return fmt.Sprintf("ssh://%s:%s@%s:%d", username, password, host, SSHPort)
}

// vmessURI is the base64-JSON form most clients import.
func vmessURI(host, clientID, username string, port int, tls bool) string {
	cfg := map[string]string{
		"v":    "2",
		"ps":   username,
		"add":  host,
		"port": strconv.Itoa(port),
		"id":   clientID,
		"aid":  "0",
		"net":  "ws",
		"path": "/vmess",
		"type": "none",
		"host": host,
	}
	if tls {
		cfg["tls"] = "tls"
		cfg["sni"] = host
	} else {
		cfg["tls"] = "none"
	}
	b, _ := json.Marshal(cfg)
	return "vmess://" + base64.StdEncoding.EncodeToString(b)
}

// xrayURI is the uuid@host query form shared by vless and trojan.
func xrayURI(scheme, host, clientID, username string, port int, tls bool) string {
	q := url.Values{}
	q.Set("path", "/"+scheme)
	q.Set("type", "ws")
	q.Set("host", host)
	if scheme == "vless" {
		q.Set("encryption", "none")
	}
	if tls {
		q.Set("security", "tls")
		q.Set("sni", host)
	} else {
		q.Set("security", "none")
	}
	return fmt.Sprintf("%s://%s@%s:%d?%s#%s",
		scheme, clientID, host, port, q.Encode(), url.PathEscape(username))
}
