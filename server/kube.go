package main

import (
	"errors"
	"fmt"

	"github.com/gammadia/tca/server/flags"
	"github.com/gammadia/tca/server/log"
	"github.com/spf13/viper"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// kubernetesClient returns nil, without error, when running outside a cluster
// with no kubeconfig: removed nodes are then left for the cluster to clean up.
func kubernetesClient() (kubernetes.Interface, error) {
	var (
		restConfig *rest.Config
		err        error
	)

	if path := viper.GetString(flags.Kubeconfig); path != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", path)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig '%s': %w", path, err)
		}
	} else {
		restConfig, err = rest.InClusterConfig()
		if errors.Is(err, rest.ErrNotInCluster) {
			log.Warn("Not running in a cluster and no kubeconfig given, Kubernetes nodes will not be deleted")
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create in-cluster config: %w", err)
		}
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return client, nil
}
