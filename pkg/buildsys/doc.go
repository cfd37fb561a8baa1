// Package buildsys implements the site build: scripts are combined (and minified for releases),
// resources are copied, images are packed into sprite sheets and all resource metadata is
// written to a single manifest.
// External programs run through a Collaborator; the default implementation uses mvdan.cc/sh
// so the same command lines work on every platform.
package buildsys
