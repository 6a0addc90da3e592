package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/pkg/errors"
)

const (
	serviceAccountToken = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	serviceAccountCA    = "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt"
)

// K8sClient provides in-cluster Kubernetes API access.
type K8sClient struct {
	apiBase   string
	tokenPath string
	caPath    string
}

func NewK8sClient() *K8sClient {
	return &K8sClient{apiBase: inClusterAPIBase(), tokenPath: serviceAccountToken, caPath: serviceAccountCA}
}

func (k *K8sClient) FindPod(ctx context.Context, namespace, labelSelector string) (string, error) {
	client, token, err := k.httpClient()
	if err != nil {
		return "", err
	}

	u := fmt.Sprintf("%s/api/v1/namespaces/%s/pods?labelSelector=%s&limit=1",
		k.apiBase, url.PathEscape(namespace), url.QueryEscape(labelSelector))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", errors.WithStack(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", errors.Errorf("list pods: %s %s", resp.Status, string(body))
	}

	var result struct {
		Items []struct {
			Metadata struct {
				Name string `json:"name"`
			} `json:"metadata"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(err, "decode pod list")
	}
	if len(result.Items) == 0 {
		return "", errors.Errorf("no pods found with label %s in %s", labelSelector, namespace)
	}
	return result.Items[0].Metadata.Name, nil
}

// StreamLogs follows a pod's log starting from now; earlier lines are
// not replayed so a reattach never relays old chat twice.
func (k *K8sClient) StreamLogs(ctx context.Context, namespace, podName string) (io.ReadCloser, error) {
	client, token, err := k.httpClient()
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/api/v1/namespaces/%s/pods/%s/log?follow=true&tailLines=0&timestamps=false",
		k.apiBase, url.PathEscape(namespace), url.PathEscape(podName))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errors.Errorf("stream logs: %s %s", resp.Status, string(body))
	}

	return resp.Body, nil
}

func (k *K8sClient) httpClient() (*http.Client, string, error) {
	token, err := os.ReadFile(k.tokenPath)
	if err != nil {
		return nil, "", errors.Wrap(err, "read sa token")
	}
	caPEM, err := os.ReadFile(k.caPath)
	if err != nil {
		return nil, "", errors.Wrap(err, "read sa ca")
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(caPEM) {
		return nil, "", errors.Errorf("no certificates in %s", k.caPath)
	}
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12},
		},
	}, string(token), nil
}

func inClusterAPIBase() string {
	host := os.Getenv("KUBERNETES_SERVICE_HOST")
	port := os.Getenv("KUBERNETES_SERVICE_PORT")
	if host == "" || port == "" {
		return "https://kubernetes.default.svc"
	}
	return fmt.Sprintf("https://%s:%s", host, port)
}
