// Package bpf holds the kernel-side program. The C source below is compiled
// by BCC at startup and attached by the tracer; its struct declarations are
// the binary contract mirrored in internal/structs.
package bpf

// Source is the BCC program text.
//
// Maps:
//   - connections: per-connection counters keyed by the 4-tuple. Capacity is
//     a hard ceiling; a full map drops new connections and keeps tracing the
//     existing ones.
//   - config: single-slot runtime configuration written by userspace. Probes
//     re-read it on every invocation and treat a missing slot as
//     "trace everything".
//   - http_events: perf channel for request/response records. The submit
//     side is not implemented yet; the userspace consumer is.
var Source = `
#include <uapi/linux/ptrace.h>
#include <uapi/linux/bpf.h>
#include <net/sock.h>

#define MAX_CONNECTIONS 10240
#define MAX_TARGET_PORTS 8

struct conn_key_t {
    u32 src_ip;
    u32 dst_ip;
    u16 src_port;
    u16 dst_port;
};

struct conn_metrics_t {
    u64 bytes_sent;
    u64 bytes_recv;
    u64 packets_sent;
    u64 packets_recv;
    u64 start_ns;
    u64 last_seen_ns;
    u32 retransmits;
    u32 _pad;
};

struct http_event_t {
    struct conn_key_t conn;
    u32 _pad0;
    u64 latency_ns;
    u16 status_code;
    u8 method;
    u8 _pad1;
    u32 path_hash;
};

struct process_info_t {
    u32 pid;
    u32 tgid;
    u32 uid;
    u32 gid;
    u64 cgroup_id;
};

struct runtime_config_t {
    u32 target_pid;
    u32 _pad0;
    u64 target_cgroup;
    u16 target_ports[MAX_TARGET_PORTS];
    u8 num_target_ports;
    u8 enable_http;
    u8 debug_mode;
    u8 _pad1;
    u32 _pad2;
};

BPF_F_TABLE("hash", struct conn_key_t, struct conn_metrics_t, connections, MAX_CONNECTIONS, BPF_F_NO_PREALLOC);
BPF_ARRAY(config, struct runtime_config_t, 1);
BPF_PERF_OUTPUT(http_events);

// Offsets into struct sock_common for 5.x kernels. Every raw read in this
// program goes through read_conn_key so a kernel layout change touches one
// place only.
#define SKC_DADDR_OFF     0
#define SKC_RCV_SADDR_OFF 4
#define SKC_DPORT_OFF     12
#define SKC_NUM_OFF       14

static __always_inline struct runtime_config_t *active_config() {
    int slot = 0;
    return config.lookup(&slot);
}

static __always_inline int should_trace(struct runtime_config_t *cfg) {
    if (cfg == NULL) {
        return 1;
    }
    if (cfg->target_pid != 0) {
        u32 pid = bpf_get_current_pid_tgid() >> 32;
        if (pid != cfg->target_pid) {
            return 0;
        }
    }
    if (cfg->target_cgroup != 0) {
        if (bpf_get_current_cgroup_id() != cfg->target_cgroup) {
            return 0;
        }
    }
    return 1;
}

static __always_inline int port_allowed(struct runtime_config_t *cfg, u16 dst_port) {
    if (cfg == NULL || cfg->num_target_ports == 0) {
        return 1;
    }
#pragma unroll
    for (int i = 0; i < MAX_TARGET_PORTS; i++) {
        if (i >= cfg->num_target_ports) {
            break;
        }
        if (cfg->target_ports[i] == dst_port) {
            return 1;
        }
    }
    return 0;
}

// Derives the 4-tuple from a live struct sock. Each field read is fault
// tolerant; a failure aborts only the current probe invocation and reports
// which field could not be read.
static __always_inline int read_conn_key(struct sock *sk, struct conn_key_t *key) {
    const char *common = (const char *)sk;
    u16 dport_be = 0;

    if (bpf_probe_read_kernel(&key->dst_ip, sizeof(u32), common + SKC_DADDR_OFF)) {
        return 1;
    }
    if (bpf_probe_read_kernel(&key->src_ip, sizeof(u32), common + SKC_RCV_SADDR_OFF)) {
        return 2;
    }
    if (bpf_probe_read_kernel(&dport_be, sizeof(u16), common + SKC_DPORT_OFF)) {
        return 3;
    }
    if (bpf_probe_read_kernel(&key->src_port, sizeof(u16), common + SKC_NUM_OFF)) {
        return 4;
    }
    key->dst_port = bpf_ntohs(dport_be);
    return 0;
}

int trace_tcp_connect(struct pt_regs *ctx, struct sock *sk) {
    struct runtime_config_t *cfg = active_config();
    if (!should_trace(cfg)) {
        return 0;
    }

    struct conn_key_t key = {};
    int err = read_conn_key(sk, &key);
    if (err) {
        return err;
    }
    if (!port_allowed(cfg, key.dst_port)) {
        return 0;
    }

    u64 now = bpf_ktime_get_ns();
    struct conn_metrics_t fresh = {};
    fresh.start_ns = now;
    fresh.last_seen_ns = now;
    connections.update(&key, &fresh);

    if (cfg && cfg->debug_mode) {
        bpf_trace_printk("new conn dst_port=%d\\n", key.dst_port);
    }
    return 0;
}

int trace_tcp_sendmsg(struct pt_regs *ctx, struct sock *sk, struct msghdr *msg, size_t size) {
    struct runtime_config_t *cfg = active_config();
    if (!should_trace(cfg)) {
        return 0;
    }

    struct conn_key_t key = {};
    int err = read_conn_key(sk, &key);
    if (err) {
        return err;
    }

    // Connections that predate the trace are ignored, never created here.
    struct conn_metrics_t *m = connections.lookup(&key);
    if (m == NULL) {
        return 0;
    }
    __sync_fetch_and_add(&m->bytes_sent, (u64)size);
    __sync_fetch_and_add(&m->packets_sent, 1);
    m->last_seen_ns = bpf_ktime_get_ns();
    return 0;
}

int trace_tcp_recvmsg(struct pt_regs *ctx, struct sock *sk) {
    struct runtime_config_t *cfg = active_config();
    if (!should_trace(cfg)) {
        return 0;
    }

    struct conn_key_t key = {};
    int err = read_conn_key(sk, &key);
    if (err) {
        return err;
    }

    struct conn_metrics_t *m = connections.lookup(&key);
    if (m == NULL) {
        return 0;
    }
    __sync_fetch_and_add(&m->packets_recv, 1);
    m->last_seen_ns = bpf_ktime_get_ns();
    return 0;
}

int trace_tcp_recvmsg_ret(struct pt_regs *ctx) {
    int ret = PT_REGS_RC(ctx);
    if (ret <= 0) {
        return 0;
    }
    // The sock pointer is gone by the time the return fires, so the byte
    // count cannot be attributed to a connection yet. Attribution needs a
    // thread-keyed scratch map written by the entry probe.
    return 0;
}

int trace_tcp_close(struct pt_regs *ctx, struct sock *sk) {
    struct conn_key_t key = {};
    int err = read_conn_key(sk, &key);
    if (err) {
        return err;
    }

    struct runtime_config_t *cfg = active_config();
    struct conn_metrics_t *m = connections.lookup(&key);
    if (m != NULL && cfg && cfg->debug_mode) {
        u64 dur_ms = (bpf_ktime_get_ns() - m->start_ns) / 1000000;
        bpf_trace_printk("close tx=%llu rx=%llu dur_ms=%llu\\n",
                         m->bytes_sent, m->bytes_recv, dur_ms);
    }

    connections.delete(&key);
    return 0;
}

// The retransmit path reads the structured trace record instead of a live
// sock; field offsets come from the running kernel's event format, not from
// hardcoded constants.
TRACEPOINT_PROBE(tcp, tcp_retransmit_skb) {
    struct conn_key_t key = {};
    __builtin_memcpy(&key.src_ip, args->saddr, sizeof(u32));
    __builtin_memcpy(&key.dst_ip, args->daddr, sizeof(u32));
    key.src_port = args->sport;
    key.dst_port = args->dport;

    struct conn_metrics_t *m = connections.lookup(&key);
    if (m == NULL) {
        return 0;
    }
    __sync_fetch_and_add(&m->retransmits, 1);
    return 0;
}
`
