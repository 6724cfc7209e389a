package backup_test

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/filestand/filestand/internal/backup"
	"github.com/filestand/filestand/internal/config"
	"github.com/filestand/filestand/internal/discovery"
)

var _ = Describe("Export", func() {
	var (
		ctx      context.Context
		client   *fake.Clientset
		exporter *backup.Exporter
	)

	BeforeEach(func() {
		ctx = context.Background()
		objs := append(dynamicFTPServer("ftp-test", "alice", "secret", 30021), staticNASServer()...)
		client = fake.NewSimpleClientset(objs...)
		engine := discovery.NewEngine(client, testNamespace, logr.Discard())
		exporter = backup.NewExporter(client, engine, testNamespace,
			config.ExportConfig{Environment: "dev", ReleasePrefix: "filestand"}, logr.Discard())
	})

	findEntry := func(doc *backup.Document, name string) *backup.ServerConfig {
		for i := range doc.Servers {
			if doc.Servers[i].Name == name {
				return &doc.Servers[i]
			}
		}
		return nil
	}

	It("re-derives dynamic credentials from the backing deployment", func() {
		doc, err := exporter.Export(ctx)
		Expect(err).NotTo(HaveOccurred())

		entry := findEntry(doc, "ftp-test")
		Expect(entry).NotTo(BeNil())
		Expect(entry.Dynamic).To(BeTrue())
		Expect(entry.Recreatable).To(BeTrue())
		Expect(entry.Protocol).To(Equal(discovery.ProtocolFTP))
		Expect(entry.NodePort).To(Equal(int32(30021)))
		Expect(entry.Directory).To(Equal("ftp-test"))
		Expect(entry.FTP).NotTo(BeNil())
		Expect(entry.FTP.Username).To(Equal("alice"))
		Expect(entry.FTP.Password).To(Equal("secret"))
		Expect(entry.SFTP).To(BeNil())
		Expect(entry.SMB).To(BeNil())
	})

	It("exports static servers as placeholders", func() {
		doc, err := exporter.Export(ctx)
		Expect(err).NotTo(HaveOccurred())

		entry := findEntry(doc, "nas-input-0")
		Expect(entry).NotTo(BeNil())
		Expect(entry.Dynamic).To(BeFalse())
		Expect(entry.Recreatable).To(BeFalse())
		Expect(entry.Note).NotTo(BeEmpty())
		Expect(entry.FTP).To(BeNil())
	})

	It("stamps document metadata", func() {
		doc, err := exporter.Export(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(doc.ID).NotTo(BeEmpty())
		Expect(doc.Version).To(Equal(backup.DocumentVersion))
		Expect(doc.Namespace).To(Equal(testNamespace))
		Expect(doc.Environment).To(Equal("dev"))
		Expect(doc.ReleasePrefix).To(Equal("filestand"))
		Expect(doc.ExportedBy).To(ContainSubstring("filestand-controlplane"))
		Expect(doc.ExportedAt).To(BeTemporally("~", time.Now(), time.Minute))
	})

	It("orders entries by name", func() {
		doc, err := exporter.Export(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(doc.Servers).To(HaveLen(2))
		Expect(doc.Servers[0].Name).To(Equal("ftp-test"))
		Expect(doc.Servers[1].Name).To(Equal("nas-input-0"))
	})

	It("degrades to a placeholder when the deployment is gone", func() {
		Expect(client.AppsV1().Deployments(testNamespace).Delete(ctx, "ftp-test", metav1.DeleteOptions{})).To(Succeed())

		doc, err := exporter.Export(ctx)
		Expect(err).NotTo(HaveOccurred())

		entry := findEntry(doc, "ftp-test")
		Expect(entry).NotTo(BeNil())
		Expect(entry.Recreatable).To(BeFalse())
		Expect(entry.Note).To(ContainSubstring("credentials"))
		Expect(entry.FTP).To(BeNil())
	})

	Describe("document encoding", func() {
		It("round-trips through JSON", func() {
			doc, err := exporter.Export(ctx)
			Expect(err).NotTo(HaveOccurred())

			data, err := doc.Encode()
			Expect(err).NotTo(HaveOccurred())

			decoded, err := backup.DecodeDocument(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(decoded.ID).To(Equal(doc.ID))
			Expect(decoded.Servers).To(Equal(doc.Servers))
		})

		It("rejects documents from a newer format", func() {
			_, err := backup.DecodeDocument([]byte(`{"version": 99}`))
			Expect(err).To(MatchError(ContainSubstring("unsupported export document version")))
		})

		It("rejects malformed JSON", func() {
			_, err := backup.DecodeDocument([]byte(`{`))
			Expect(err).To(HaveOccurred())
		})
	})
})
