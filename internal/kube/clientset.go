package kube

import (
	"context"
	"fmt"

	"github.com/nholik/deckhand/internal/cloud"
	"github.com/nholik/deckhand/internal/readiness"
	"github.com/rs/zerolog"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// ClientFactory builds a clientset for a kubeconfig and provider credentials.
type ClientFactory func(kubeconfigPath string, creds cloud.Credentials) (kubernetes.Interface, error)

// ClientsetOption configures a Clientset.
type ClientsetOption func(*Clientset)

// WithClientFactory overrides how clientsets are built.
func WithClientFactory(factory ClientFactory) ClientsetOption {
	return func(c *Clientset) {
		if factory != nil {
			c.factory = factory
		}
	}
}

// Clientset implements Client with client-go.
type Clientset struct {
	factory ClientFactory
	logger  zerolog.Logger
}

// NewClientset constructs a client-go backed client.
func NewClientset(logger zerolog.Logger, opts ...ClientsetOption) *Clientset {
	c := &Clientset{factory: NewForKubeconfig, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// NewForKubeconfig loads kubeconfigPath and passes creds to exec credential plugins, which is how
// provider CLIs (aws, doctl, scw) authenticate.
func NewForKubeconfig(kubeconfigPath string, creds cloud.Credentials) (kubernetes.Interface, error) {
	restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig: %w", err)
	}
	if restConfig.ExecProvider != nil {
		for _, cred := range creds {
			restConfig.ExecProvider.Env = append(restConfig.ExecProvider.Env, clientcmdapi.ExecEnvVar{Name: cred.Name, Value: cred.Value})
		}
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("build clientset: %w", err)
	}
	return clientset, nil
}

// CreateNamespace implements Client.
func (c *Clientset) CreateNamespace(ctx context.Context, t Target) error {
	cs, err := c.factory(t.KubeconfigPath, t.Credentials)
	if err != nil {
		return err
	}
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: t.Namespace}}
	if _, err := cs.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("create namespace %s: %w", t.Namespace, err)
	}
	c.logger.Info().Str("namespace", t.Namespace).Msg("namespace created")
	return nil
}

// DeleteNamespace implements Client.
func (c *Clientset) DeleteNamespace(ctx context.Context, t Target) error {
	cs, err := c.factory(t.KubeconfigPath, t.Credentials)
	if err != nil {
		return err
	}
	if err := cs.CoreV1().Namespaces().Delete(ctx, t.Namespace, metav1.DeleteOptions{}); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete namespace %s: %w", t.Namespace, err)
	}
	return nil
}

// JobReady implements Client.
func (c *Clientset) JobReady(ctx context.Context, t Target, name string) (bool, error) {
	cs, err := c.factory(t.KubeconfigPath, t.Credentials)
	if err != nil {
		return false, err
	}
	job, err := cs.BatchV1().Jobs(t.Namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("get job %s: %w", name, err)
	}
	ready, err := EvaluateJob(job)
	if err != nil {
		return false, readiness.Terminal(err)
	}
	return ready, nil
}

// DeploymentReady implements Client.
func (c *Clientset) DeploymentReady(ctx context.Context, t Target, name string) (bool, error) {
	cs, err := c.factory(t.KubeconfigPath, t.Credentials)
	if err != nil {
		return false, err
	}
	deployment, err := cs.AppsV1().Deployments(t.Namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("get deployment %s: %w", name, err)
	}
	return EvaluateDeployment(deployment), nil
}
