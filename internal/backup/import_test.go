package backup_test

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/filestand/filestand/internal/backup"
	"github.com/filestand/filestand/internal/config"
	"github.com/filestand/filestand/internal/discovery"
	"github.com/filestand/filestand/internal/lifecycle"
)

var _ = Describe("Import", func() {
	var (
		ctx      context.Context
		client   *fake.Clientset
		importer *backup.Importer
	)

	// setup builds a cluster with the control plane and a live dynamic
	// ftp-test server, plus whatever extra objects a spec needs.
	setup := func(extra ...runtime.Object) {
		ctx = context.Background()
		objs := append([]runtime.Object{controlPlanePod()}, dynamicFTPServer("ftp-test", "alice", "secret", 30021)...)
		objs = append(objs, extra...)
		client = fake.NewSimpleClientset(objs...)

		engine := discovery.NewEngine(client, testNamespace, logr.Discard())
		manager := lifecycle.NewManager(lifecycle.ManagerOptions{
			Client:    client,
			Namespace: testNamespace,
			Servers:   config.DefaultConfig().Servers,
			Logger:    logr.Discard(),
		})
		importer = backup.NewImporter(engine, manager, logr.Discard())
	}

	BeforeEach(func() { setup() })

	newDoc := func(entries ...backup.ServerConfig) *backup.Document {
		return &backup.Document{
			ID:        "doc-test",
			Version:   backup.DocumentVersion,
			Namespace: testNamespace,
			Servers:   entries,
		}
	}

	ftpEntry := func(name, username, password string, nodePort int32) backup.ServerConfig {
		return backup.ServerConfig{
			Name:        name,
			Protocol:    discovery.ProtocolFTP,
			NodePort:    nodePort,
			Dynamic:     true,
			Recreatable: true,
			Directory:   name,
			FTP:         &backup.FTPBlock{Username: username, Password: password},
		}
	}

	sftpEntry := func(name, username, password string) backup.ServerConfig {
		return backup.ServerConfig{
			Name:        name,
			Protocol:    discovery.ProtocolSFTP,
			Dynamic:     true,
			Recreatable: true,
			SFTP:        &backup.SFTPBlock{Username: username, Password: password},
		}
	}

	Context("with the skip strategy", func() {
		It("leaves the existing server untouched and records a skip", func() {
			result, err := importer.Import(ctx, newDoc(ftpEntry("ftp-test", "bob", "newpass", 30099)), backup.StrategySkip)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Created).To(BeEmpty())
			Expect(result.Failed).To(BeEmpty())
			Expect(result.Skipped).To(HaveLen(1))
			Expect(result.Skipped[0].Name).To(Equal("ftp-test"))
			Expect(result.Skipped[0].Reason).To(ContainSubstring("already in use"))

			deployment, err := client.AppsV1().Deployments(testNamespace).Get(ctx, "ftp-test", metav1.GetOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(deployment.Spec.Template.Spec.Containers[0].Env).To(ContainElement(corev1.EnvVar{Name: "FTP_USER", Value: "alice"}))
		})
	})

	Context("with the replace strategy", func() {
		It("deletes the existing server and creates the imported definition", func() {
			result, err := importer.Import(ctx, newDoc(ftpEntry("ftp-test", "bob", "newpass", 30099)), backup.StrategyReplace)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Created).To(HaveLen(1))
			Expect(result.Created[0].Name).To(Equal("ftp-test"))
			Expect(result.Skipped).To(BeEmpty())
			Expect(result.Failed).To(BeEmpty())

			deployment, err := client.AppsV1().Deployments(testNamespace).Get(ctx, "ftp-test", metav1.GetOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(deployment.Spec.Template.Spec.Containers[0].Env).To(ContainElement(corev1.EnvVar{Name: "FTP_USER", Value: "bob"}))

			service, err := client.CoreV1().Services(testNamespace).Get(ctx, "ftp-test", metav1.GetOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(service.Spec.Ports[0].NodePort).To(Equal(int32(30099)))
		})

		It("records a delete failure for that entry and carries on", func() {
			client.PrependReactor("delete", "deployments", func(action k8stesting.Action) (bool, runtime.Object, error) {
				return true, nil, fmt.Errorf("admission webhook says no")
			})

			doc := newDoc(
				ftpEntry("ftp-test", "bob", "newpass", 0),
				sftpEntry("sftp-docs", "carol", "pw"),
			)
			result, err := importer.Import(ctx, doc, backup.StrategyReplace)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Failed).To(HaveLen(1))
			Expect(result.Failed[0].Name).To(Equal("ftp-test"))
			Expect(result.Failed[0].Reason).To(ContainSubstring("failed to delete existing server"))

			Expect(result.Created).To(HaveLen(1))
			Expect(result.Created[0].Name).To(Equal("sftp-docs"))
		})
	})

	Context("with the rename strategy", func() {
		It("creates a numbered variant and keeps the original", func() {
			result, err := importer.Import(ctx, newDoc(ftpEntry("ftp-test", "bob", "newpass", 30099)), backup.StrategyRename)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Created).To(HaveLen(1))
			Expect(result.Created[0].Name).To(Equal("ftp-test-1"))
			Expect(result.Created[0].Reason).To(ContainSubstring("renamed from ftp-test"))

			original, err := client.AppsV1().Deployments(testNamespace).Get(ctx, "ftp-test", metav1.GetOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(original.Spec.Template.Spec.Containers[0].Env).To(ContainElement(corev1.EnvVar{Name: "FTP_USER", Value: "alice"}))

			renamed, err := client.AppsV1().Deployments(testNamespace).Get(ctx, "ftp-test-1", metav1.GetOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(renamed.Spec.Template.Spec.Containers[0].Env).To(ContainElement(corev1.EnvVar{Name: "FTP_USER", Value: "bob"}))

			// The original keeps its pinned node port; the variant gets
			// an assigned one.
			service, err := client.CoreV1().Services(testNamespace).Get(ctx, "ftp-test-1", metav1.GetOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(service.Spec.Ports[0].NodePort).To(Equal(int32(0)))
		})

		It("increments the suffix until a name is free", func() {
			setup(dynamicFTPServer("ftp-test-1", "carol", "pw2", 30022)...)

			result, err := importer.Import(ctx, newDoc(ftpEntry("ftp-test", "bob", "newpass", 0)), backup.StrategyRename)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Created).To(HaveLen(1))
			Expect(result.Created[0].Name).To(Equal("ftp-test-2"))
		})
	})

	Context("entries that cannot be imported", func() {
		It("skips static entries", func() {
			doc := newDoc(backup.ServerConfig{Name: "nas-input-0", Protocol: discovery.ProtocolNFS, Dynamic: false})
			result, err := importer.Import(ctx, doc, backup.StrategySkip)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Skipped).To(HaveLen(1))
			Expect(result.Skipped[0].Reason).To(ContainSubstring("static"))
		})

		It("skips protocols that cannot be created dynamically", func() {
			doc := newDoc(backup.ServerConfig{Name: "nfs-extra", Protocol: discovery.ProtocolNFS, Dynamic: true, Recreatable: true})
			result, err := importer.Import(ctx, doc, backup.StrategySkip)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Skipped).To(HaveLen(1))
			Expect(result.Skipped[0].Reason).To(ContainSubstring("not supported"))
		})

		It("skips entries without credentials", func() {
			entry := ftpEntry("ftp-nocreds", "", "", 0)
			entry.FTP = nil
			result, err := importer.Import(ctx, newDoc(entry), backup.StrategySkip)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Skipped).To(HaveLen(1))
			Expect(result.Skipped[0].Reason).To(Equal("missing credentials"))
		})
	})

	It("rejects unknown strategies", func() {
		_, err := importer.Import(ctx, newDoc(), backup.Strategy("merge"))
		Expect(err).To(MatchError(ContainSubstring("unknown import strategy")))
	})

	Describe("Validate", func() {
		It("previews the disposition of every entry", func() {
			doc := newDoc(
				ftpEntry("ftp-fresh", "u", "p", 0),
				ftpEntry("ftp-test", "u", "p", 0),
				backup.ServerConfig{Name: "nas-input-0", Protocol: discovery.ProtocolNFS, Dynamic: false},
			)

			plan, err := importer.Validate(ctx, doc)
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.Entries).To(HaveLen(3))

			Expect(plan.Entries[0].Disposition).To(Equal(backup.DispositionCreate))
			Expect(plan.Entries[1].Disposition).To(Equal(backup.DispositionConflict))
			Expect(plan.Entries[1].Reason).To(ContainSubstring("already in use"))
			Expect(plan.Entries[2].Disposition).To(Equal(backup.DispositionSkip))
		})

		It("does not mutate the cluster", func() {
			before := len(client.Actions())
			_, err := importer.Validate(ctx, newDoc(ftpEntry("ftp-fresh", "u", "p", 0)))
			Expect(err).NotTo(HaveOccurred())

			for _, action := range client.Actions()[before:] {
				Expect(action.GetVerb()).To(BeElementOf("list", "get"), "validate must be read only")
			}
		})
	})
})
