package server

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/leftmike/rowcache/operation"
	"github.com/leftmike/rowcache/session"
	"github.com/leftmike/rowcache/sql"
)

type SSHConfig struct {
	Address         string
	HostKeysBytes   [][]byte
	AuthorizedBytes []byte
	CheckPassword   func(user, password string) error
}

const keyFingerprint = "key-fingerprint"

func parseAuthorizedKeys(buf []byte) (map[string]struct{}, error) {
	keys := map[string]struct{}{}
	for len(buf) > 0 {
		key, _, _, rest, err := ssh.ParseAuthorizedKey(buf)
		if err != nil {
			return nil, errors.Wrap(err, "ssh authorized keys")
		}
		keys[string(key.Marshal())] = struct{}{}
		buf = rest
	}
	return keys, nil
}

func (svr *Server) sshServerConfig(sshCfg SSHConfig) (*ssh.ServerConfig, error) {
	cfg := &ssh.ServerConfig{
		AuthLogCallback: func(md ssh.ConnMetadata, method string, err error) {
			if method == "none" {
				return
			}
			entry := log.WithFields(log.Fields{
				"user":   md.User(),
				"addr":   md.RemoteAddr().String(),
				"method": method,
			})
			if err != nil {
				entry.WithField("error", err.Error()).Warn("ssh authentication failed")
			} else {
				entry.Debug("ssh authenticated")
			}
		},
		BannerCallback: func(md ssh.ConnMetadata) string {
			return fmt.Sprintf("rowcache %d.%d: result cache up to %d rows per cursor\n",
				sql.MajorVersion, sql.MinorVersion, svr.Manager.MaxCacheRows())
		},
	}

	for _, keyBytes := range sshCfg.HostKeysBytes {
		key, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, errors.Wrap(err, "ssh host key")
		}
		cfg.AddHostKey(key)
	}

	keys, err := parseAuthorizedKeys(sshCfg.AuthorizedBytes)
	if err != nil {
		return nil, err
	}

	if checkPassword := sshCfg.CheckPassword; checkPassword != nil {
		cfg.PasswordCallback =
			func(md ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
				return nil, checkPassword(md.User(), string(pass))
			}
	}
	if len(keys) > 0 {
		cfg.PublicKeyCallback =
			func(md ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
				if _, ok := keys[string(key.Marshal())]; !ok {
					return nil, errors.Newf("unknown public key for %s", md.User())
				}
				return &ssh.Permissions{
					Extensions: map[string]string{
						keyFingerprint: ssh.FingerprintSHA256(key),
					},
				}, nil
			}
	}
	if cfg.PasswordCallback == nil && cfg.PublicKeyCallback == nil {
		cfg.NoClientAuth = true
		log.Warn("ssh client auth: NONE")
	}

	return cfg, nil
}

func (svr *Server) ListenAndServeSSH(sshCfg SSHConfig) error {
	l, err := net.Listen("tcp", sshCfg.Address)
	if err != nil {
		return err
	}
	return svr.ServeSSH(l, sshCfg)
}

// ServeSSH accepts ssh connections on l. Each session channel runs either an
// interactive shell or, for an exec request, the statements in the command.
func (svr *Server) ServeSSH(l net.Listener, sshCfg SSHConfig) error {
	cfg, err := svr.sshServerConfig(sshCfg)
	if err != nil {
		l.Close()
		return err
	}
	svr.addListener(l)

	for {
		conn, err := l.Accept()
		if err != nil {
			if svr.isShutdown() {
				err = ErrServerClosed
			}
			log.WithField("error", err.Error()).Error("ssh accept")
			return err
		}

		go svr.handleSSHConn(conn, cfg)
	}
}

func (svr *Server) handleSSHConn(tcp net.Conn, cfg *ssh.ServerConfig) {
	atomic.AddInt32(&svr.connCount, 1)
	defer atomic.AddInt32(&svr.connCount, -1)

	if !svr.trackConn(tcp, true) {
		tcp.Close()
		return
	}
	defer func() {
		if svr.trackConn(tcp, false) {
			tcp.Close()
		}
	}()

	conn, chans, reqs, err := ssh.NewServerConn(tcp, cfg)
	if err != nil {
		log.WithFields(log.Fields{
			"addr":  tcp.RemoteAddr().String(),
			"error": err.Error(),
		}).Error("ssh handshake")
		return
	}

	entry := log.WithFields(log.Fields{
		"user": conn.User(),
		"addr": conn.RemoteAddr().String(),
	})
	if conn.Permissions != nil {
		if fp, ok := conn.Permissions.Extensions[keyFingerprint]; ok {
			entry = entry.WithField("key", fp)
		}
	}
	entry.Info("ssh connected")
	defer entry.Info("ssh disconnected")

	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	for nch := range chans {
		if typ := nch.ChannelType(); typ != "session" {
			nch.Reject(ssh.UnknownChannelType, typ)
			entry.WithField("channel-type", typ).Warn("ssh channel rejected")
			continue
		}

		wg.Add(1)
		go func(nch ssh.NewChannel) {
			defer wg.Done()
			svr.handleSSHChannel(conn, nch, entry)
		}(nch)
	}
	wg.Wait()
}

func (svr *Server) handleSSHChannel(conn *ssh.ServerConn, nch ssh.NewChannel, entry *log.Entry) {
	ch, reqs, err := nch.Accept()
	if err != nil {
		entry.WithField("error", err.Error()).Error("ssh channel accept")
		return
	}
	defer ch.Close()

	user := conn.User()
	addr := conn.RemoteAddr().String()
	for req := range reqs {
		switch req.Type {
		case "shell":
			req.Reply(true, nil)
			go ssh.DiscardRequests(reqs)

			svr.HandleSession(
				func(ses *session.Session) {
					t := terminal.NewTerminal(ch, sshPrompt(ses))
					svr.Handler(ses, &termReader{term: t, ses: ses}, t)
				}, user, "ssh", addr)
			return
		case "exec":
			var cmd struct {
				Command string
			}
			if err := ssh.Unmarshal(req.Payload, &cmd); err != nil {
				entry.WithField("error", err.Error()).Error("ssh exec request")
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go ssh.DiscardRequests(reqs)

			svr.HandleSession(
				func(ses *session.Session) {
					svr.Handler(ses, strings.NewReader(cmd.Command), ch)
				}, user, "ssh-exec", addr)
			ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
			return
		case "pty-req", "env":
			if req.WantReply {
				req.Reply(true, nil)
			}
		default:
			entry.WithField("request-type", req.Type).Debug("ssh channel request ignored")
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// sshPrompt shows the cache size of the session and its open cursors.
func sshPrompt(ses *session.Session) string {
	var state []string
	if size, ok := ses.Overlay()[operation.CacheSizeOption]; ok {
		state = append(state, "cache="+size)
	}
	state = append(state, ses.Cursors()...)

	if len(state) == 0 {
		return "rowcache: "
	}
	return fmt.Sprintf("rowcache [%s]: ", strings.Join(state, " "))
}

// termReader reads the terminal a line at a time, updating the prompt before
// each line.
type termReader struct {
	term *terminal.Terminal
	ses  *session.Session
	r    *strings.Reader
}

func (tr *termReader) ReadRune() (rune, int, error) {
	for {
		if tr.r == nil {
			tr.term.SetPrompt(sshPrompt(tr.ses))
			line, err := tr.term.ReadLine()
			if err != nil {
				return 0, 0, err
			}
			tr.r = strings.NewReader(line + "\n")
		}

		r, sz, err := tr.r.ReadRune()
		if err == io.EOF {
			tr.r = nil
		} else if err != nil {
			return 0, 0, err
		} else {
			return r, sz, nil
		}
	}
}
