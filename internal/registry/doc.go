// Package registry holds the declared set of build targets.
//
// A target pairs a unique name with an environment definition (base image
// plus setup commands) and a build command. The registry validates the
// declaration once, up front: duplicate or incomplete targets are rejected
// before any environment is built or any source is fetched. After
// construction the registry never changes.
//
// Target declarations are data. The YAML encoding read by [Load] is the
// only configuration surface the orchestrator consumes:
//
//	artifact: app.bin
//	source: https://github.com/example/app.git
//	targets:
//	  - name: ubuntu16.04
//	    environment:
//	      image: images/ubuntu16.04.tar
//	      setup:
//	        - apt-get update && apt-get install -y build-essential
//	    build: make clean all
package registry
