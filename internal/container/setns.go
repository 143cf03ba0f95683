// This file implements the enter command which runs a command inside the
// namespaces of a running process. Due to Linux kernel restrictions on
// mount namespace operations in multi-threaded processes, a C constructor is
// used to enter namespaces before Go runtime spins up additional threads.

package container

/*
#define _GNU_SOURCE
#include <errno.h>
#include <fcntl.h>
#include <sched.h>
#include <stdio.h>
#include <stdlib.h>
#include <string.h>
#include <sys/stat.h>
#include <sys/wait.h>
#include <unistd.h>

#define MAX_PATH 1024
#define MAX_CMDLINE 65536

static int same_ns(const char *pid, const char *ns) {
	char path[MAX_PATH];
	struct stat self, target;

	snprintf(path, sizeof(path), "/proc/self/ns/%s", ns);
	if (stat(path, &self) < 0) {
		return 0;
	}
	snprintf(path, sizeof(path), "/proc/%s/ns/%s", pid, ns);
	if (stat(path, &target) < 0) {
		return 0;
	}
	return self.st_ino == target.st_ino && self.st_dev == target.st_dev;
}

// command_argv returns the arguments following "--" on our command line.
static char **command_argv(void) {
	static char buf[MAX_CMDLINE];
	static char *argv[256];

	int fd = open("/proc/self/cmdline", O_RDONLY);
	if (fd < 0) {
		return NULL;
	}
	ssize_t n = read(fd, buf, sizeof(buf) - 1);
	close(fd);
	if (n <= 0) {
		return NULL;
	}
	buf[n] = '\0';

	int argc = 0, found = 0;
	for (char *p = buf; p < buf + n && argc < 255; p += strlen(p) + 1) {
		if (found) {
			argv[argc++] = p;
		} else if (strcmp(p, "--") == 0) {
			found = 1;
		}
	}
	argv[argc] = NULL;

	return argc > 0 ? argv : NULL;
}

__attribute__((constructor)) void enter_namespace(void) {
	const char *target_pid = getenv("TINYCAGE_ENTER_PID");
	if (!target_pid) {
		return;
	}

	char **argv = command_argv();
	if (!argv) {
		fprintf(stderr, "no command to run\n");
		exit(1);
	}

	char nspath[MAX_PATH];
	snprintf(nspath, sizeof(nspath), "/proc/%s/root", target_pid);
	int rootfd = open(nspath, O_RDONLY | O_DIRECTORY);
	if (rootfd < 0) {
		fprintf(stderr, "failed to open root of %s: %s\n", target_pid, strerror(errno));
		exit(1);
	}

	const char* namespaces[] = { "user", "ipc", "uts", "net", "pid", "mnt" };

	for (int i = 0; i < sizeof(namespaces) / sizeof(namespaces[0]); i++) {
		if (same_ns(target_pid, namespaces[i])) {
			continue;
		}

		if (snprintf(nspath, sizeof(nspath), "/proc/%s/ns/%s",
					target_pid, namespaces[i]) >= sizeof(nspath)) {
			fprintf(stderr, "path too long for namespace %s\n", namespaces[i]);
			exit(1);
		}

		int fd = open(nspath, O_RDONLY);
		if (fd < 0) {
			fprintf(stderr, "failed to open %s namespace: %s\n",
					namespaces[i], strerror(errno));
			exit(1);
		}

		if (setns(fd, 0) == -1) {
			fprintf(stderr, "failed to enter %s namespace: %s\n",
					namespaces[i], strerror(errno));
			close(fd);
			exit(1);
		}
		close(fd);
	}

	if (fchdir(rootfd) < 0 || chroot(".") < 0 || chdir("/") < 0) {
		fprintf(stderr, "failed to change root: %s\n", strerror(errno));
		exit(1);
	}
	close(rootfd);
	unsetenv("TINYCAGE_ENTER_PID");

	// The pid namespace only applies to children
	pid_t child = fork();
	if (child < 0) {
		fprintf(stderr, "failed to fork: %s\n", strerror(errno));
		exit(1);
	}
	if (child == 0) {
		execvp(argv[0], argv);
		fprintf(stderr, "failed to execute %s: %s\n", argv[0], strerror(errno));
		_exit(127);
	}

	int status;
	while (waitpid(child, &status, 0) < 0) {
		if (errno != EINTR) {
			fprintf(stderr, "failed to wait: %s\n", strerror(errno));
			exit(1);
		}
	}

	if (WIFSIGNALED(status)) {
		exit(128 + WTERMSIG(status));
	}
	exit(WEXITSTATUS(status));
}
*/
import "C"
