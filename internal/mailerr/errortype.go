package mailerr

// Diagnostic error types reported by a connection test.
const (
	TypeDNS               = "dns_error"
	TypeConnectionRefused = "connection_refused"
	TypeTimeout           = "timeout"
	TypeSSL               = "ssl_error"
	TypeAuthFailed        = "auth_failed"
	TypeProxy             = "proxy_error"
	TypeConnectionFailed  = "connection_failed"
	TypeTestException     = "test_exception"
)

// ErrorType maps err onto the diagnostics enumeration using its kind and
// reason.
func ErrorType(err error) string {
	me, ok := As(err)
	if !ok {
		if err != nil && IsTimeout(err) {
			return TypeTimeout
		}
		return TypeConnectionFailed
	}
	switch me.Kind {
	case KindDNS:
		return TypeDNS
	case KindTCPConnect:
		switch me.Reason {
		case ReasonRefused:
			return TypeConnectionRefused
		case ReasonTimeout:
			return TypeTimeout
		}
		if me.Peer == PeerHTTPProxy || me.Peer == PeerSOCKS5Proxy {
			return TypeProxy
		}
		return TypeConnectionFailed
	case KindProxyNegotiation:
		return TypeProxy
	case KindTLSHandshake:
		return TypeSSL
	case KindAuthentication:
		return TypeAuthFailed
	default:
		if IsTimeout(me.Err) {
			return TypeTimeout
		}
		return TypeConnectionFailed
	}
}
