// Package bridge connects the directory watch service to the output
// service. Each created file becomes an Announce with empty metadata;
// everything else the watcher reports is logged and dropped.
package bridge
