package launch

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/launchpad/runtime"
	"github.com/warriorguo/launchpad/types"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const sshDialTimeout = 30 * time.Second

var defaultKeyFiles = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// sshTarget is a remote host reached by the built-in ssh client.
type sshTarget struct {
	address string
	config  *ssh.ClientConfig
}

func newSSHTarget(host string, resources types.Data) (*sshTarget, error) {
	user, _ := resources.GetString(ResUser)
	if i := strings.LastIndex(host, "@"); i >= 0 {
		if user == "" {
			user = host[:i]
		}
		host = host[i+1:]
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		return nil, errors.BadRequestf("%s resource is required", ResUser)
	}
	port, _ := resources.GetString(ResPort)

	signer, err := sshSigner(resources)
	if err != nil {
		return nil, errors.Trace(err)
	}
	hostKeyCallback, err := sshHostKeyCallback(resources)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &sshTarget{
		address: sshAddress(host, port),
		config: &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         sshDialTimeout,
		},
	}, nil
}

func sshAddress(host, port string) string {
	if port != "" {
		return net.JoinHostPort(host, port)
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, "22")
}

// sshSigner loads the key_path resource, or the first default key of
// ~/.ssh. Keys with a passphrase are not supported.
func sshSigner(resources types.Data) (ssh.Signer, error) {
	paths := []string{}
	if path, _ := resources.GetString(ResKeyPath); path != "" {
		paths = append(paths, path)
	} else if home, err := os.UserHomeDir(); err == nil {
		for _, name := range defaultKeyFiles {
			paths = append(paths, filepath.Join(home, ".ssh", name))
		}
	}

	for _, path := range paths {
		b, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, errors.Annotatef(err, "read ssh key")
		}
		signer, err := ssh.ParsePrivateKey(b)
		if err != nil {
			return nil, errors.Annotatef(err, "parse ssh key %s", path)
		}
		return signer, nil
	}
	return nil, errors.NotFoundf("ssh key (set the %s resource)", ResKeyPath)
}

func sshHostKeyCallback(resources types.Data) (ssh.HostKeyCallback, error) {
	if insecure, _ := resources.GetBool(ResInsecureHostKey); insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path, _ := resources.GetString(ResKnownHosts)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.NotFoundf("known hosts file (set the %s resource)", ResKnownHosts)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(path)
	return callback, errors.Annotatef(err, "load known hosts")
}

// worker runs command on the target with the payload on stdin. Once the
// program stops the remote process gets SIGTERM, the session is closed
// after the termination notice.
func (t *sshTarget) worker(m *runtime.WorkerManager, command string, payload []byte, notice int) func() error {
	return func() error {
		client, err := ssh.Dial("tcp", t.address, t.config)
		if err != nil {
			return errors.Annotatef(err, "dial %s", t.address)
		}
		defer client.Close()
		session, err := client.NewSession()
		if err != nil {
			return errors.Annotatef(err, "open session on %s", t.address)
		}
		defer session.Close()

		session.Stdin = bytes.NewReader(payload)
		session.Stdout = os.Stdout
		session.Stderr = os.Stderr
		if err := session.Start(command); err != nil {
			return errors.Annotatef(err, "start worker on %s", t.address)
		}

		done := make(chan struct{})
		defer close(done)
		go t.terminateOnStop(m, client, session, notice, done)
		return sessionExitError(m, session.Wait())
	}
}

func (t *sshTarget) terminateOnStop(m *runtime.WorkerManager, client *ssh.Client, session *ssh.Session, notice int, done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-m.StopEvent().C():
	}
	if err := session.Signal(ssh.SIGTERM); err != nil {
		log.Debugf("signal worker on %s: %v", t.address, err)
	}
	if notice < 0 {
		return
	}

	timer := time.NewTimer(time.Duration(notice) * time.Second)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.Warnf("closing ssh session to %s", t.address)
		client.Close()
	}
}

func sessionExitError(m *runtime.WorkerManager, err error) error {
	if err == nil {
		return nil
	}
	if exitErr, ok := err.(*ssh.ExitError); ok {
		if exitErr.Signal() != "" && m.Stopped() {
			return nil
		}
		return errors.Errorf("One of the workers exited with status %d", exitErr.ExitStatus())
	}
	// ExitMissingError or a closed connection
	if m.Stopped() {
		log.Debugf("ssh session ended on stop: %v", err)
		return nil
	}
	return errors.Trace(err)
}
