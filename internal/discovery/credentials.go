package discovery

import (
	"strings"

	corev1 "k8s.io/api/core/v1"
)

// Environment variable and argument conventions of the server images in use.
// vsftpd takes FTP_USER/FTP_PASS env vars, the sftp image takes a positional
// "user:pass:uid:gid" argument, samba takes -u "user;pass", minio takes its
// root credential env pair.
const (
	envFTPUser    = "FTP_USER"
	envFTPPass    = "FTP_PASS"
	envMinioUser  = "MINIO_ROOT_USER"
	envMinioPass  = "MINIO_ROOT_PASSWORD"
	smbUserFlag   = "-u"
	noAuthMessage = "no authentication"
)

// ExtractCredentials reads server credentials back out of a pod template
// spec. A nil result means the protocol has no extractable credentials or the
// spec did not follow the expected image convention; either way discovery
// carries on without them.
func ExtractCredentials(spec *corev1.PodSpec, protocol Protocol) *Credentials {
	if spec == nil || len(spec.Containers) == 0 {
		return nil
	}
	switch protocol {
	case ProtocolFTP:
		return credentialsFromEnv(spec, envFTPUser, envFTPPass)
	case ProtocolS3:
		return credentialsFromEnv(spec, envMinioUser, envMinioPass)
	case ProtocolSFTP:
		return sftpCredentials(spec)
	case ProtocolSMB:
		return smbCredentials(spec)
	case ProtocolNFS:
		return &Credentials{Note: noAuthMessage}
	default:
		return nil
	}
}

func credentialsFromEnv(spec *corev1.PodSpec, userKey, passKey string) *Credentials {
	var user, pass string
	for _, c := range spec.Containers {
		for _, env := range c.Env {
			switch env.Name {
			case userKey:
				user = env.Value
			case passKey:
				pass = env.Value
			}
		}
	}
	if user == "" {
		return nil
	}
	return &Credentials{Username: user, Password: pass}
}

// sftpCredentials parses the positional "user:pass:uid:gid" argument. Only
// the first two segments are required; uid and gid are image concerns.
func sftpCredentials(spec *corev1.PodSpec) *Credentials {
	for _, arg := range containerArgs(spec) {
		parts := strings.Split(arg, ":")
		if len(parts) >= 2 && parts[0] != "" && parts[1] != "" {
			return &Credentials{Username: parts[0], Password: parts[1]}
		}
	}
	return nil
}

// smbCredentials looks for -u "user;pass" in the container arguments.
func smbCredentials(spec *corev1.PodSpec) *Credentials {
	args := containerArgs(spec)
	for i, arg := range args {
		if arg != smbUserFlag || i+1 >= len(args) {
			continue
		}
		parts := strings.SplitN(strings.Trim(args[i+1], `"`), ";", 2)
		if len(parts) == 2 && parts[0] != "" {
			return &Credentials{Username: parts[0], Password: parts[1]}
		}
	}
	return nil
}

func containerArgs(spec *corev1.PodSpec) []string {
	var args []string
	for _, c := range spec.Containers {
		args = append(args, c.Args...)
	}
	return args
}
