package remote

import (
	"fmt"
	"regexp"

	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
)

// Params carries everything a script builder may interpolate. All string
// fields are charset-validated before interpolation; that validation is the
// injection defense, scripts do no quoting of their own.
type Params struct {
	Username string
	Password string // ssh family
	UUID     string // xray family client id
	Days     int    // create / renew
	Minutes  int    // trial lifetime
	QuotaGB  int
	IPLimit  int
	Domain   string // server host, embedded in detail files
}

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	passwordRe = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	uuidRe     = regexp.MustCompile(`^[a-fA-F0-9-]+$`)
	domainRe   = regexp.MustCompile(`^[a-zA-Z0-9.-]+$`)
)

// ValidateUsername enforces the account charset: alphanumeric, 3-32 runes.
// Rejecting everything else keeps script interpolation injection-free.
func ValidateUsername(username string) error {
	if len(username) < 3 || len(username) > 32 {
		return fmt.Errorf("username must be 3-32 characters: %w", ErrValidation)
	}
	if !usernameRe.MatchString(username) {
		return fmt.Errorf("username must be alphanumeric: %w", ErrValidation)
	}
	return nil
}

// ValidatePassword enforces the same charset on caller-chosen passwords.
func ValidatePassword(password string) error {
	if len(password) < 6 || len(password) > 64 {
		return fmt.Errorf("password must be 6-64 characters: %w", ErrValidation)
	}
	if !passwordRe.MatchString(password) {
		return fmt.Errorf("password must be alphanumeric: %w", ErrValidation)
	}
	return nil
}

// BuildScript renders the shell script for one (verb, protocol) pair.
// Pure text generation; the expiry arithmetic runs on the remote host so the
// host's clock and account database stay authoritative.
func BuildScript(verb, protocol string, p Params) (string, error) {
	if err := ValidateUsername(p.Username); err != nil {
		return "", err
	}
	if p.Domain != "" && !domainRe.MatchString(p.Domain) {
		return "", fmt.Errorf("invalid domain %q: %w", p.Domain, ErrValidation)
	}

	switch protocol {
	case models.ProtocolSSH:
		return buildSSHScript(verb, p)
	case models.ProtocolVmess, models.ProtocolVless, models.ProtocolTrojan:
		return buildXrayScript(verb, protocol, p)
	default:
		return "", fmt.Errorf("no script for protocol %q: %w", protocol, ErrValidation)
	}
}

func buildSSHScript(verb string, p Params) (string, error) {
	switch verb {
	case models.VerbCreate:
		if err := ValidatePassword(p.Password); err != nil {
			return "", err
		}
		if p.Days <= 0 {
			return "", fmt.Errorf("days must be positive: %w", ErrValidation)
		}
		return sshCreate(p), nil
	case models.VerbRenew:
		if p.Days <= 0 {
			return "", fmt.Errorf("days must be positive: %w", ErrValidation)
		}
		return sshRenew(p), nil
	case models.VerbDelete:
		return sshDelete(p), nil
	case models.VerbTrial:
		if err := ValidatePassword(p.Password); err != nil {
			return "", err
		}
		if p.Minutes <= 0 {
			return "", fmt.Errorf("minutes must be positive: %w", ErrValidation)
		}
		return sshTrial(p), nil
	default:
		return "", fmt.Errorf("no ssh script for verb %q: %w", verb, ErrValidation)
	}
}

func buildXrayScript(verb, protocol string, p Params) (string, error) {
	if p.UUID != "" && !uuidRe.MatchString(p.UUID) {
		return "", fmt.Errorf("invalid client id: %w", ErrValidation)
	}
	switch verb {
	case models.VerbCreate:
		if p.UUID == "" {
			return "", fmt.Errorf("client id required: %w", ErrValidation)
		}
		if p.Days <= 0 {
			return "", fmt.Errorf("days must be positive: %w", ErrValidation)
		}
		return xrayCreate(protocol, p), nil
	case models.VerbRenew:
		if p.Days <= 0 {
			return "", fmt.Errorf("days must be positive: %w", ErrValidation)
		}
		return xrayRenew(protocol, p), nil
	case models.VerbDelete:
		return xrayDelete(protocol, p), nil
	case models.VerbTrial:
		if p.UUID == "" {
			return "", fmt.Errorf("client id required: %w", ErrValidation)
		}
		if p.Minutes <= 0 {
			return "", fmt.Errorf("minutes must be positive: %w", ErrValidation)
		}
		return xrayTrial(protocol, p), nil
	default:
		return "", fmt.Errorf("no %s script for verb %q: %w", protocol, verb, ErrValidation)
	}
}

// ==================== ssh family ====================

func sshCreate(p Params) string {
	return fmt.Sprintf(`if getent passwd %[1]s >/dev/null 2>&1; then
  echo "ERROR:User already exists"
  exit 0
fi
exp=$(date -d "+%[2]d days" +%%Y-%%m-%%d)
useradd -e "$exp" -s /bin/false -M %[1]s
echo "%[1]s:%[3]s" | chpasswd
mkdir -p /etc/tunnel/limit/ssh
echo "%[4]d" > /etc/tunnel/limit/ssh/%[1]s
mkdir -p /var/www/html
cat > /var/www/html/ssh-%[1]s.txt <<DETAIL
Host: %[5]s
Username: %[1]s
Password: %[3]s
Expires: $exp
DETAIL
echo "DEBUG:exp=$exp"
echo "URI:ssh://%[1]s:%[3]s@%[5]s:22"
echo "EXP:$exp"
echo "SUCCESS"
`, p.Username, p.Days, p.Password, p.IPLimit, p.Domain)
}

func sshRenew(p Params) string {
	return fmt.Sprintf(`if ! getent passwd %[1]s >/dev/null 2>&1; then
  echo "ERROR:User not found"
  exit 0
fi
old=$(chage -l %[1]s | sed -n 's/^Account expires[[:space:]]*: //p')
new=""
if [ -n "$old" ] && [ "$old" != "never" ]; then
  new=$(date -d "$old +%[2]d days" +%%Y-%%m-%%d 2>/dev/null)
fi
if [ -z "$new" ]; then
  new=$(date -d "+%[2]d days" +%%Y-%%m-%%d)
fi
usermod -e "$new" %[1]s
echo "DEBUG:old_exp=$old"
echo "DEBUG:new_exp=$new"
echo "EXP:$new"
echo "SUCCESS"
`, p.Username, p.Days)
}

func sshDelete(p Params) string {
	return fmt.Sprintf(`if ! getent passwd %[1]s >/dev/null 2>&1; then
  echo "ERROR:User not found"
  exit 0
fi
pkill -KILL -u %[1]s 2>/dev/null
userdel -f %[1]s
rm -f /etc/tunnel/limit/ssh/%[1]s /var/www/html/ssh-%[1]s.txt
echo "SUCCESS"
`, p.Username)
}

func sshTrial(p Params) string {
	return fmt.Sprintf(`if getent passwd %[1]s >/dev/null 2>&1; then
  echo "ERROR:User already exists"
  exit 0
fi
exp=$(date -d "+1 days" +%%Y-%%m-%%d)
useradd -e "$exp" -s /bin/false -M %[1]s
echo "%[1]s:%[2]s" | chpasswd
echo "pkill -KILL -u %[1]s; userdel -f %[1]s" | at now + %[3]d minutes 2>/dev/null
echo "DEBUG:minutes=%[3]d"
echo "URI:ssh://%[1]s:%[2]s@%[4]s:22"
echo "SUCCESS"
`, p.Username, p.Password, p.Minutes, p.Domain)
}

// ==================== xray family ====================

// Marker conventions inside /etc/xray/config.json. Each client stanza is one
// line directly below its marker line, so delete is always "marker plus one":
//
//	#vmess-clients            <- insertion sentinel, one per protocol section
//	#vms <user> <YYYY-MM-DD>  <- per-account marker
//	,{"id": "...", ...}       <- client stanza
func xrayTag(protocol string) string {
	switch protocol {
	case models.ProtocolVless:
		return "#vls"
	case models.ProtocolTrojan:
		return "#trj"
	default:
		return "#vms"
	}
}

func xraySentinel(protocol string) string {
	return "#" + protocol + "-clients"
}

func xrayStanza(protocol, uuid, username string) string {
	switch protocol {
	case models.ProtocolTrojan:
		return fmt.Sprintf(`,{"password": "%s", "email": "%s"}`, uuid, username)
	case models.ProtocolVless:
		return fmt.Sprintf(`,{"id": "%s", "email": "%s"}`, uuid, username)
	default:
		return fmt.Sprintf(`,{"id": "%s", "alterId": 0, "email": "%s"}`, uuid, username)
	}
}

func xrayCreate(protocol string, p Params) string {
	return fmt.Sprintf(`CONF=/etc/xray/config.json
if grep -q "^%[1]s %[2]s " $CONF; then
  echo "ERROR:User already exists"
  exit 0
fi
exp=$(date -d "+%[3]d days" +%%Y-%%m-%%d)
marker="%[1]s %[2]s $exp"
stanza='%[4]s'
sed -i "/^%[5]s/a\\${marker}\\n${stanza}" $CONF
mkdir -p /etc/tunnel/quota/%[6]s /etc/tunnel/limit/%[6]s
echo "$((%[7]d * 1024 * 1024 * 1024))" > /etc/tunnel/quota/%[6]s/%[2]s
echo "%[8]d" > /etc/tunnel/limit/%[6]s/%[2]s
mkdir -p /var/www/html
cat > /var/www/html/%[6]s-%[2]s.txt <<DETAIL
Host: %[9]s
Protocol: %[6]s
Username: %[2]s
ID: %[10]s
Expires: $exp
DETAIL
systemctl restart xray >/dev/null 2>&1
echo "DEBUG:uuid=%[10]s"
echo "DEBUG:exp=$exp"
echo "EXP:$exp"
echo "SUCCESS"
`, xrayTag(protocol), p.Username, p.Days, xrayStanza(protocol, p.UUID, p.Username),
		xraySentinel(protocol), protocol, p.QuotaGB, p.IPLimit, p.Domain, p.UUID)
}

func xrayRenew(protocol string, p Params) string {
	return fmt.Sprintf(`CONF=/etc/xray/config.json
old=$(grep "^%[1]s %[2]s " $CONF | head -n1 | awk '{print $3}')
if [ -z "$old" ]; then
  echo "ERROR:User not found"
  exit 0
fi
new=$(date -d "$old +%[3]d days" +%%Y-%%m-%%d 2>/dev/null)
if [ -z "$new" ]; then
  new=$(date -d "+%[3]d days" +%%Y-%%m-%%d)
fi
sed -i "s|^%[1]s %[2]s $old|%[1]s %[2]s $new|" $CONF
systemctl restart xray >/dev/null 2>&1
echo "DEBUG:old_exp=$old"
echo "DEBUG:new_exp=$new"
echo "EXP:$new"
echo "SUCCESS"
`, xrayTag(protocol), p.Username, p.Days)
}

func xrayDelete(protocol string, p Params) string {
	return fmt.Sprintf(`CONF=/etc/xray/config.json
if ! grep -q "^%[1]s %[2]s " $CONF; then
  echo "ERROR:User not found"
  exit 0
fi
sed -i "/^%[1]s %[2]s /,+1d" $CONF
rm -f /etc/tunnel/quota/%[3]s/%[2]s /etc/tunnel/limit/%[3]s/%[2]s /var/www/html/%[3]s-%[2]s.txt
systemctl restart xray >/dev/null 2>&1
echo "SUCCESS"
`, xrayTag(protocol), p.Username, protocol)
}

func xrayTrial(protocol string, p Params) string {
	return fmt.Sprintf(`CONF=/etc/xray/config.json
if grep -q "^%[1]s %[2]s " $CONF; then
  echo "ERROR:User already exists"
  exit 0
fi
exp=$(date -d "+1 days" +%%Y-%%m-%%d)
marker="%[1]s %[2]s $exp"
stanza='%[3]s'
sed -i "/^%[4]s/a\\${marker}\\n${stanza}" $CONF
systemctl restart xray >/dev/null 2>&1
echo "sed -i '/^%[1]s %[2]s /,+1d' $CONF; systemctl restart xray" | at now + %[5]d minutes 2>/dev/null
echo "DEBUG:uuid=%[6]s"
echo "DEBUG:minutes=%[5]d"
echo "SUCCESS"
`, xrayTag(protocol), p.Username, xrayStanza(protocol, p.UUID, p.Username),
		xraySentinel(protocol), p.Minutes, p.UUID)
}
