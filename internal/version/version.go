package version

import (
	"context"
	"fmt"
	"runtime"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const versionConfigMapName = "filestand-version"

type Info struct {
	Major        string `json:"major"`
	Minor        string `json:"minor"`
	Patch        string `json:"patch"`
	GitCommit    string `json:"gitCommit"`
	GitTreeState string `json:"gitTreeState"`
	BuildDate    string `json:"buildDate"`
	GoVersion    string `json:"goVersion"`
	Compiler     string `json:"compiler"`
	Platform     string `json:"platform"`
}

func (info Info) String() string {
	return fmt.Sprintf("%s.%s.%s", info.Major, info.Minor, info.Patch)
}

// Set via -ldflags at build time.
var (
	major        string
	minor        string
	patch        string
	gitCommit    string
	gitTreeState string
	buildDate    string
)

var Get = func() Info {
	return Info{
		Major:        major,
		Minor:        minor,
		Patch:        patch,
		GitCommit:    gitCommit,
		GitTreeState: gitTreeState,
		BuildDate:    buildDate,
		GoVersion:    runtime.Version(),
		Compiler:     runtime.Compiler,
		Platform:     fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// UserAgent identifies this build in export documents.
func UserAgent() string {
	return fmt.Sprintf("filestand-controlplane/%s", Get().String())
}

// StampConfigMap records the running build in a ConfigMap so operators can
// check the deployed version without exec access. Failures are logged only;
// the control plane runs fine without the stamp.
func StampConfigMap(ctx context.Context, logger logr.Logger, client kubernetes.Interface, namespace string) {
	info := Get()

	desired := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      versionConfigMapName,
			Namespace: namespace,
		},
		Data: map[string]string{
			"version":        info.String(),
			"git_commit":     info.GitCommit,
			"git_tree_state": info.GitTreeState,
			"build_date":     info.BuildDate,
			"go_version":     info.GoVersion,
			"compiler":       info.Compiler,
			"platform":       info.Platform,
		},
	}

	existing, err := client.CoreV1().ConfigMaps(namespace).Get(ctx, versionConfigMapName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			logger.Info("Creating version ConfigMap",
				"version", info.String(),
				"commit", info.GitCommit)

			if _, err := client.CoreV1().ConfigMaps(namespace).Create(ctx, desired, metav1.CreateOptions{}); err != nil {
				logger.Error(err, "Failed to create version ConfigMap")
			}
		} else {
			logger.Error(err, "Error checking for existing version ConfigMap")
		}
		return
	}

	if existing.Data["version"] == info.String() && existing.Data["git_commit"] == info.GitCommit {
		return
	}

	logger.Info("Updating version ConfigMap",
		"old_version", existing.Data["version"],
		"new_version", info.String())

	existing.Data = desired.Data
	if _, err := client.CoreV1().ConfigMaps(namespace).Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
		logger.Error(err, "Failed to update version ConfigMap")
	}
}
