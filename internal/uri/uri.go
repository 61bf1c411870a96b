// Package uri parses the pseudo-URL connection string into a ConnString.
// Option precedence (URI value > explicit config > default) is applied by
// the client when it merges a ConnString with explicit configuration.
package uri

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ConfigurationError is returned for malformed connection strings.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("error parsing uri: %s: %s", e.Msg, e.Err)
	}
	return fmt.Sprintf("error parsing uri: %s", e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ConnString represents the fully resolved, parsed connection string.
type ConnString struct {
	Original     string
	Scheme       string
	Username     string
	Password     string
	PasswordSet  bool
	Hosts        []string
	Database     string
	Direct       bool
	ReplicaSet   string

	AuthMechanism           string
	AuthMechanismProperties map[string]string
	AuthSource              string

	ReadPreference     string
	ReadPreferenceTagSets []map[string]string
	MaxStalenessSeconds int

	W        string
	WNumber  int
	WNumberSet bool
	Journal  bool
	JournalSet bool
	WTimeoutMS int

	SSL    bool
	SSLSet bool

	ConnectTimeoutMS       int
	SocketTimeoutMS        int
	ServerSelectionTimeoutMS int
	LocalThresholdMS       int
	HeartbeatFrequencyMS   int
	SocketCheckIntervalMS  int
	ServerSelectionTryOnce bool

	Compressors         []string
	ZlibCompressionLevel int

	AppName string
	MaxTimeMS int

	UnknownOptions map[string]string
}

// defaultScheme is a plain seed-list connection string; srvScheme triggers a DNS-seedlist lookup.
const (
	defaultScheme = "mongodb"
	srvScheme     = "mongodb+srv"
)

// Parse parses a raw connection string into a ConnString, applying percent-decoding
// to user/password/options and splitting multi-valued options.
func Parse(original string) (*ConnString, error) {
	cs := &ConnString{
		Original:                original,
		AuthMechanismProperties: map[string]string{},
		UnknownOptions:          map[string]string{},
		Journal:                 false,
	}

	schemeEnd := strings.Index(original, "://")
	if schemeEnd == -1 {
		return nil, &ConfigurationError{Msg: "scheme must be \"mongodb\" or \"mongodb+srv\""}
	}
	cs.Scheme = original[:schemeEnd]
	if cs.Scheme != defaultScheme && cs.Scheme != srvScheme {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("unknown scheme %q", cs.Scheme)}
	}

	rest := original[schemeEnd+3:]

	// Split off userinfo.
	var userinfo string
	if idx := lastIndexBeforeHosts(rest, '@'); idx != -1 {
		userinfo = rest[:idx]
		rest = rest[idx+1:]
	}
	if userinfo != "" {
		parts := strings.SplitN(userinfo, ":", 2)
		username, err := url.QueryUnescape(parts[0])
		if err != nil {
			return nil, &ConfigurationError{Msg: "invalid username", Err: err}
		}
		cs.Username = username
		if len(parts) == 2 {
			pw, err := url.QueryUnescape(parts[1])
			if err != nil {
				return nil, &ConfigurationError{Msg: "invalid password", Err: err}
			}
			cs.Password = pw
			cs.PasswordSet = true
		}
	}

	// Split hosts from path/query.
	var hostPart, pathQuery string
	if idx := strings.IndexAny(rest, "/"); idx != -1 {
		hostPart = rest[:idx]
		pathQuery = rest[idx:]
	} else if idx := strings.IndexAny(rest, "?"); idx != -1 {
		hostPart = rest[:idx]
		pathQuery = rest[idx:]
	} else {
		hostPart = rest
	}

	if hostPart == "" {
		return nil, &ConfigurationError{Msg: "must have at least 1 host"}
	}
	for _, h := range strings.Split(hostPart, ",") {
		if h == "" {
			continue
		}
		cs.Hosts = append(cs.Hosts, h)
	}

	if cs.Scheme == srvScheme && len(cs.Hosts) != 1 {
		return nil, &ConfigurationError{Msg: "mongodb+srv:// URIs must have exactly one host"}
	}

	var query string
	if strings.HasPrefix(pathQuery, "/") {
		pathQuery = pathQuery[1:]
		if idx := strings.Index(pathQuery, "?"); idx != -1 {
			dbName := pathQuery[:idx]
			query = pathQuery[idx+1:]
			db, err := url.QueryUnescape(dbName)
			if err != nil {
				return nil, &ConfigurationError{Msg: "invalid database name", Err: err}
			}
			cs.Database = db
		} else if pathQuery != "" {
			db, err := url.QueryUnescape(pathQuery)
			if err != nil {
				return nil, &ConfigurationError{Msg: "invalid database name", Err: err}
			}
			cs.Database = db
		}
	} else {
		query = strings.TrimPrefix(pathQuery, "?")
	}

	if err := cs.parseOptions(query); err != nil {
		return nil, err
	}

	if cs.Direct && len(cs.Hosts) > 1 {
		return nil, &ConfigurationError{Msg: "a direct connection cannot be made if multiple hosts are specified"}
	}
	if cs.Direct && cs.ReplicaSet != "" {
		return nil, &ConfigurationError{Msg: "directConnection and replicaSet cannot both be set"}
	}

	return cs, nil
}

// lastIndexBeforeHosts finds the last '@' that appears before the host list begins,
// i.e. not inside a percent-escaped password that happens to contain '@'-looking bytes.
func lastIndexBeforeHosts(s string, b byte) int {
	// Hosts never contain '@'; the final '@' in the string (before any '/' or '?')
	// is always the userinfo separator.
	limit := len(s)
	if idx := strings.IndexAny(s, "/?"); idx != -1 {
		limit = idx
	}
	return strings.LastIndexByte(s[:limit], b)
}

func (cs *ConnString) parseOptions(query string) error {
	if query == "" {
		return nil
	}
	pairs := strings.Split(query, "&")
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		key, err := url.QueryUnescape(kv[0])
		if err != nil {
			return &ConfigurationError{Msg: fmt.Sprintf("invalid option key %q", kv[0]), Err: err}
		}
		var value string
		if len(kv) == 2 {
			value, err = url.QueryUnescape(kv[1])
			if err != nil {
				return &ConfigurationError{Msg: fmt.Sprintf("invalid option value for %q", key), Err: err}
			}
		}
		if err := cs.applyOption(strings.ToLower(key), value); err != nil {
			return err
		}
	}
	return nil
}

func (cs *ConnString) applyOption(key, value string) error {
	switch key {
	case "authmechanism":
		cs.AuthMechanism = value
	case "authmechanismproperties":
		for _, p := range strings.Split(value, ",") {
			kv := strings.SplitN(p, ":", 2)
			if len(kv) == 2 {
				cs.AuthMechanismProperties[kv[0]] = kv[1]
			}
		}
	case "authsource":
		cs.AuthSource = value
	case "readpreference":
		cs.ReadPreference = value
	case "readpreferencetags":
		set := map[string]string{}
		for _, p := range strings.Split(value, ",") {
			kv := strings.SplitN(p, ":", 2)
			if len(kv) == 2 {
				set[kv[0]] = kv[1]
			}
		}
		cs.ReadPreferenceTagSets = append(cs.ReadPreferenceTagSets, set)
	case "maxstalenessseconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &ConfigurationError{Msg: "invalid maxStalenessSeconds", Err: err}
		}
		cs.MaxStalenessSeconds = n
	case "w":
		cs.W = value
		if n, err := strconv.Atoi(value); err == nil {
			cs.WNumber = n
			cs.WNumberSet = true
		}
	case "wtimeoutms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &ConfigurationError{Msg: "invalid wtimeoutMS", Err: err}
		}
		cs.WTimeoutMS = n
	case "journal":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return &ConfigurationError{Msg: "invalid journal", Err: err}
		}
		cs.Journal = b
		cs.JournalSet = true
	case "ssl", "tls":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return &ConfigurationError{Msg: "invalid ssl/tls", Err: err}
		}
		cs.SSL = b
		cs.SSLSet = true
	case "connecttimeoutms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &ConfigurationError{Msg: "invalid connectTimeoutMS", Err: err}
		}
		cs.ConnectTimeoutMS = n
	case "sockettimeoutms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &ConfigurationError{Msg: "invalid socketTimeoutMS", Err: err}
		}
		cs.SocketTimeoutMS = n
	case "serverselectiontimeoutms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &ConfigurationError{Msg: "invalid serverSelectionTimeoutMS", Err: err}
		}
		cs.ServerSelectionTimeoutMS = n
	case "localthresholdms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &ConfigurationError{Msg: "invalid localThresholdMS", Err: err}
		}
		cs.LocalThresholdMS = n
	case "heartbeatfrequencyms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &ConfigurationError{Msg: "invalid heartbeatFrequencyMS", Err: err}
		}
		cs.HeartbeatFrequencyMS = n
	case "socketcheckintervalms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &ConfigurationError{Msg: "invalid socketCheckIntervalMS", Err: err}
		}
		cs.SocketCheckIntervalMS = n
	case "serverselectiontryonce":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return &ConfigurationError{Msg: "invalid serverSelectionTryOnce", Err: err}
		}
		cs.ServerSelectionTryOnce = b
	case "compressors":
		cs.Compressors = strings.Split(value, ",")
	case "zlibcompressionlevel":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &ConfigurationError{Msg: "invalid zlibCompressionLevel", Err: err}
		}
		cs.ZlibCompressionLevel = n
	case "appname":
		cs.AppName = value
	case "maxtimems":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &ConfigurationError{Msg: "invalid maxTimeMS", Err: err}
		}
		cs.MaxTimeMS = n
	case "replicaset":
		cs.ReplicaSet = value
	case "directconnection":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return &ConfigurationError{Msg: "invalid directConnection", Err: err}
		}
		cs.Direct = b
	default:
		// Unknown options are recorded in UnknownOptions and otherwise
		// ignored; neither this package nor the client emits a warning for them.
		cs.UnknownOptions[key] = value
	}
	return nil
}

// IsSRV reports whether this connection string requires a DNS-seedlist lookup.
func (cs *ConnString) IsSRV() bool {
	return cs.Scheme == srvScheme
}

// ErrMultiHostDirect is returned when Direct/Single mode is requested with multiple hosts.
var ErrMultiHostDirect = errors.New("a direct connection cannot be made if multiple hosts are specified")
