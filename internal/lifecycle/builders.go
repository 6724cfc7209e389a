package lifecycle

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	"github.com/filestand/filestand/internal/discovery"
)

const (
	dataVolumeName = "data"

	ftpPort  int32 = 21
	sftpPort int32 = 22
	smbPort  int32 = 445

	ftpMountPath = "/home/vsftpd"
	smbMountPath = "/share"

	// Fixed uid/gid the sftp image runs the account under.
	sftpUID = 1001
	sftpGID = 100
)

// blueprint captures everything protocol-specific about a server pod so the
// deployment and service builders stay generic.
type blueprint struct {
	protocol  discovery.Protocol
	image     string
	port      int32
	env       []corev1.EnvVar
	args      []string
	mountPath string
	subPath   string
}

func (m *Manager) ftpBlueprint(req CreateFTPServerRequest) blueprint {
	return blueprint{
		protocol: discovery.ProtocolFTP,
		image:    m.images.FTP,
		port:     ftpPort,
		env: []corev1.EnvVar{
			{Name: "FTP_USER", Value: req.Username},
			{Name: "FTP_PASS", Value: req.Password},
		},
		mountPath: ftpMountPath,
		subPath:   defaultSubPath(req.SubPath, req.Name),
	}
}

func (m *Manager) sftpBlueprint(req CreateSFTPServerRequest) blueprint {
	return blueprint{
		protocol: discovery.ProtocolSFTP,
		image:    m.images.SFTP,
		port:     sftpPort,
		// user:pass:uid:gid:dir is the account line the sftp image expects.
		args:      []string{fmt.Sprintf("%s:%s:%d:%d:upload", req.Username, req.Password, sftpUID, sftpGID)},
		mountPath: fmt.Sprintf("/home/%s/upload", req.Username),
		subPath:   defaultSubPath(req.SubPath, req.Name),
	}
}

func (m *Manager) smbBlueprint(req CreateSMBServerRequest) blueprint {
	share := req.ShareName
	if share == "" {
		share = dataVolumeName
	}
	return blueprint{
		protocol: discovery.ProtocolSMB,
		image:    m.images.SMB,
		port:     smbPort,
		args: []string{
			"-u", fmt.Sprintf("%s;%s", req.Username, req.Password),
			"-s", fmt.Sprintf("%s;%s;yes;no;no;%s", share, smbMountPath, req.Username),
			"-p",
		},
		mountPath: smbMountPath,
		subPath:   defaultSubPath(req.SubPath, req.Name),
	}
}

func defaultSubPath(requested, name string) string {
	if requested != "" {
		return requested
	}
	return name
}

// serverLabels is the full label set stamped on dynamic deployments, pods and
// services. Discovery keys off these, so the set has to stay in sync with
// what the engine selects and classifies on.
func serverLabels(name string, protocol discovery.Protocol) map[string]string {
	return map[string]string{
		discovery.LabelName:      discovery.AppName,
		discovery.LabelComponent: discovery.ComponentServer,
		discovery.LabelManagedBy: discovery.ManagedByControl,
		discovery.LabelInstance:  name,
		discovery.LabelPartOf:    discovery.AppName,
		discovery.LabelProtocol:  protocol.String(),
	}
}

// selectorLabels is the immutable subset used for deployment selectors and
// service routing.
func selectorLabels(name string) map[string]string {
	return map[string]string{
		discovery.LabelName:     discovery.AppName,
		discovery.LabelInstance: name,
	}
}

func (m *Manager) buildDeployment(name string, bp blueprint, owner metav1.OwnerReference) *appsv1.Deployment {
	token := bp.protocol.String()

	container := corev1.Container{
		Name:  token,
		Image: bp.image,
		Env:   bp.env,
		Args:  bp.args,
		Ports: []corev1.ContainerPort{
			{Name: token, ContainerPort: bp.port, Protocol: corev1.ProtocolTCP},
		},
		VolumeMounts: []corev1.VolumeMount{
			{Name: dataVolumeName, MountPath: bp.mountPath, SubPath: bp.subPath},
		},
		ReadinessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				TCPSocket: &corev1.TCPSocketAction{Port: intstr.FromInt32(bp.port)},
			},
			InitialDelaySeconds: 5,
			PeriodSeconds:       10,
		},
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:            name,
			Namespace:       m.namespace,
			Labels:          serverLabels(name, bp.protocol),
			OwnerReferences: []metav1.OwnerReference{owner},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
			Selector: &metav1.LabelSelector{MatchLabels: selectorLabels(name)},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: serverLabels(name, bp.protocol),
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
					Volumes: []corev1.Volume{
						{
							Name: dataVolumeName,
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
									ClaimName: m.storageClaim,
								},
							},
						},
					},
				},
			},
		},
	}
}

func (m *Manager) buildService(name string, bp blueprint, nodePort int32, owner metav1.OwnerReference) *corev1.Service {
	token := bp.protocol.String()

	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:            name,
			Namespace:       m.namespace,
			Labels:          serverLabels(name, bp.protocol),
			OwnerReferences: []metav1.OwnerReference{owner},
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeNodePort,
			Selector: selectorLabels(name),
			Ports: []corev1.ServicePort{
				{
					Name:       token,
					Port:       bp.port,
					TargetPort: intstr.FromInt32(bp.port),
					NodePort:   nodePort,
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}
}
