package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"jobrunner/internal/job"
)

const managedByLabel = "app.kubernetes.io/managed-by"

// KubernetesConfig holds configuration for the kubernetes processor.
type KubernetesConfig struct {
	// Namespace where jobs will be created
	Namespace string
	// ServiceAccount for job pods (optional)
	ServiceAccount string
	// Default resource limits for jobs
	DefaultCPULimit    string
	DefaultMemoryLimit string
	// PollInterval between pod status checks
	PollInterval time.Duration
}

// Kubernetes runs a job as a Kubernetes batch Job. Arguments:
//
//	image    container image (required)
//	command  container command, list or single string
//	env      map of environment variables
//
// The batch Job is deleted when the execution context is cancelled.
type Kubernetes struct {
	clientset kubernetes.Interface
	config    KubernetesConfig
	logger    *slog.Logger
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE") // Windows
}

// NewKubernetes connects with the in-cluster configuration, falling back to
// ~/.kube/config for local development.
func NewKubernetes(cfg KubernetesConfig, logger *slog.Logger) (*Kubernetes, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		logger.Info("in-cluster config not available, trying kubeconfig", "error", err)
		kubeconfig := filepath.Join(homeDir(), ".kube", "config")
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	return NewKubernetesWithClient(clientset, cfg, logger), nil
}

// NewKubernetesWithClient builds the processor on an existing clientset.
func NewKubernetesWithClient(clientset kubernetes.Interface, cfg KubernetesConfig, logger *slog.Logger) *Kubernetes {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.DefaultCPULimit == "" {
		cfg.DefaultCPULimit = "500m"
	}
	if cfg.DefaultMemoryLimit == "" {
		cfg.DefaultMemoryLimit = "256Mi"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Kubernetes{clientset: clientset, config: cfg, logger: logger}
}

func (k *Kubernetes) Name() string { return "kubernetes" }

func (k *Kubernetes) Execute(ctx context.Context, args job.Arguments) error {
	spec, err := k.buildJob(args)
	if err != nil {
		return err
	}

	created, err := k.clientset.BatchV1().Jobs(k.config.Namespace).Create(ctx, spec, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("failed to create kubernetes job: %w", err)
	}
	k.logger.Info("created kubernetes job", "k8s_job", created.Name, "namespace", k.config.Namespace)

	err = k.wait(ctx, created.Name)
	if ctx.Err() != nil {
		deleteCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if delErr := k.deleteJob(deleteCtx, created.Name); delErr != nil {
			k.logger.Error("failed to delete cancelled kubernetes job", "k8s_job", created.Name, "error", delErr)
		}
	}
	return err
}

func (k *Kubernetes) buildJob(args job.Arguments) (*batchv1.Job, error) {
	image := args.StringValue("image")
	if image == "" {
		return nil, errors.New("image is required")
	}

	command := args.StringList("command")
	if _, isString := args["command"].(string); isString {
		command = []string{"sh", "-c", command[0]}
	}

	env := args.StringMap("env")
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	envVars := make([]corev1.EnvVar, 0, len(keys))
	for _, key := range keys {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: env[key]})
	}

	cpu, err := resource.ParseQuantity(k.config.DefaultCPULimit)
	if err != nil {
		return nil, fmt.Errorf("invalid cpu limit %q: %w", k.config.DefaultCPULimit, err)
	}
	memory, err := resource.ParseQuantity(k.config.DefaultMemoryLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid memory limit %q: %w", k.config.DefaultMemoryLimit, err)
	}

	jobName := "jobrunner-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	backoffLimit := int32(0)

	spec := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: k.config.Namespace,
			Labels:    map[string]string{managedByLabel: "jobrunner"},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"job-name":     jobName,
						managedByLabel: "jobrunner",
					},
				},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: k.config.ServiceAccount,
					Containers: []corev1.Container{{
						Name:    "job",
						Image:   image,
						Command: command,
						Env:     envVars,
						Resources: corev1.ResourceRequirements{
							Limits: corev1.ResourceList{
								corev1.ResourceCPU:    cpu,
								corev1.ResourceMemory: memory,
							},
						},
					}},
				},
			},
		},
	}
	return spec, nil
}

// wait polls until the job's pod succeeds or fails.
func (k *Kubernetes) wait(ctx context.Context, jobName string) error {
	ticker := time.NewTicker(k.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		pods, err := k.clientset.CoreV1().Pods(k.config.Namespace).List(ctx, metav1.ListOptions{
			LabelSelector: "job-name=" + jobName,
		})
		if err != nil {
			return fmt.Errorf("failed to list pods of %s: %w", jobName, err)
		}
		if len(pods.Items) == 0 {
			continue
		}

		pod := pods.Items[0]
		switch pod.Status.Phase {
		case corev1.PodSucceeded:
			return nil
		case corev1.PodFailed:
			return podFailure(&pod)
		}
	}
}

func podFailure(pod *corev1.Pod) error {
	for _, cs := range pod.Status.ContainerStatuses {
		if t := cs.State.Terminated; t != nil {
			if t.Reason != "" {
				return fmt.Errorf("pod %s failed with exit code %d: %s", pod.Name, t.ExitCode, t.Reason)
			}
			return fmt.Errorf("pod %s failed with exit code %d", pod.Name, t.ExitCode)
		}
	}
	return fmt.Errorf("pod %s failed", pod.Name)
}

func (k *Kubernetes) deleteJob(ctx context.Context, jobName string) error {
	propagation := metav1.DeletePropagationForeground
	err := k.clientset.BatchV1().Jobs(k.config.Namespace).Delete(ctx, jobName, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobName, err)
	}
	k.logger.Info("deleted kubernetes job", "k8s_job", jobName)
	return nil
}
